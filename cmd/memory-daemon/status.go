package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentmemory/memoryd/internal/config"
)

// statusReport is printed by the status command; Stats is only
// populated when no instance is currently running, since the
// underlying SQLite-backed stores are single-writer and a running
// instance already holds them open.
type statusReport struct {
	Running bool  `json:"running"`
	PID     int   `json:"pid,omitempty"`
	Stats   *any  `json:"stats,omitempty"`
}

func newStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a memory-daemon instance is running, and engine stats if not",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}

			pid, err := readPID(cfg.DataDir)
			if err != nil {
				return err
			}
			running := isRunning(pid)

			report := statusReport{Running: running}
			if running {
				report.PID = pid
			} else {
				a, err := buildApp(cfg)
				if err != nil {
					return err
				}
				defer a.close()

				stats, err := a.admin.Stats(cmd.Context())
				if err != nil {
					return err
				}
				var v any = stats
				report.Stats = &v
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("memory-daemon: encode status: %w", err)
			}
			return nil
		},
	}
}
