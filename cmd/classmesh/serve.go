package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/classmesh/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulation behind the HTTP API",
		Long:  "Serve exposes the query and control API plus the /ws event stream. With --autostart the simulation starts immediately; otherwise POST /api/start starts it.",
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

			addr := cfg.Addr
			if addr == "" {
				addr = sc.API.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(sim, logger.WithComponent("api")),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if autostart, _ := cmd.Flags().GetBool("autostart"); autostart {
				ticks := cfg.Ticks
				if ticks == 0 {
					ticks = sc.Ticks
				}
				if err := sim.Start(ticks); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("api.listening", "addr", addr)
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (scenario api.addr when empty)")
	cmd.Flags().Int64("ticks", 0, "ticks to run on autostart; 0 uses the scenario value")
	cmd.Flags().Bool("autostart", false, "start the simulation immediately")
	return cmd
}
