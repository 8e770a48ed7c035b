package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation in the foreground",
		Long:  "Run releases ticks until --ticks have been committed (the scenario's ticks when 0) or the process is interrupted, then prints the final status as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sim, sc, logger, err := newSimulation(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := sim.Close(); err != nil {
					logger.Warn("classmesh.close.failed", "error", err.Error())
				}
			}()

			ticks := cfg.Ticks
			if ticks == 0 {
				ticks = sc.Ticks
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sim.Run(ctx, ticks); err != nil && ctx.Err() == nil {
				return err
			}
			flushCtx := context.Background()
			if err := sim.Engine().Flush(flushCtx); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sim.Status())
		},
	}
	cmd.Flags().Int64("ticks", 0, "ticks to run; 0 uses the scenario value (0 there runs until interrupted)")
	return cmd
}
