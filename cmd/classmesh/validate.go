package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a scenario file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sc, err := loadScenario(cfg)
			if err != nil {
				return err
			}
			if err := sc.Validate(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "scenario %q is valid: %d agents, %d timetable entries\n",
				sc.Name, len(sc.Agents), len(sc.Timetable))
			return err
		},
	}
}
