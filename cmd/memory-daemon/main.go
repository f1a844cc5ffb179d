// Command memory-daemon is the composition root: it wires every
// internal package into one process, exposes the background jobs
// through the admin registry, and serves operator commands through
// cobra subcommands the way the teacher's cmd/bd root command does.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentmemory/memoryd/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "memory-daemon",
		Short:         "Local conversational memory engine for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newStartCmd(&cfgPath))
	root.AddCommand(newStopCmd(&cfgPath))
	root.AddCommand(newStatusCmd(&cfgPath))
	root.AddCommand(newAdminCmd(&cfgPath))
	root.AddCommand(newAgentsCmd(&cfgPath))
	return root
}

// signalContext returns a context canceled on SIGINT/SIGTERM, the way
// the teacher's daemon commands tear down on an operator's Ctrl-C.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
