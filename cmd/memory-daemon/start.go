package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmemory/memoryd/internal/config"
)

func newStartCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the memory engine and its background jobs until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}

			if pid, err := readPID(cfg.DataDir); err != nil {
				return err
			} else if isRunning(pid) {
				return fmt.Errorf("memory-daemon: already running (pid %d)", pid)
			}

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := writePIDFile(cfg.DataDir); err != nil {
				return err
			}
			defer removePIDFile(cfg.DataDir)

			ctx, cancel := signalContext()
			defer cancel()

			a.log.Info("memory-daemon starting", "data_dir", cfg.DataDir, "pid", os.Getpid())
			a.run(ctx)
			a.log.Info("memory-daemon stopped")
			return nil
		},
	}
}
