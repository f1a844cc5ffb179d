package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmemory/memoryd/internal/config"
)

func newStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running memory-daemon to shut down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}

			pid, err := readPID(cfg.DataDir)
			if err != nil {
				return err
			}
			if !isRunning(pid) {
				return fmt.Errorf("memory-daemon: no running instance found under %s", cfg.DataDir)
			}

			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("memory-daemon: find process %d: %w", pid, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("memory-daemon: signal process %d: %w", pid, err)
			}

			for i := 0; i < 50 && isRunning(pid); i++ {
				time.Sleep(100 * time.Millisecond)
			}
			if isRunning(pid) {
				return fmt.Errorf("memory-daemon: pid %d did not exit within 5s of SIGTERM", pid)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped (pid %d)\n", pid)
			return nil
		},
	}
}
