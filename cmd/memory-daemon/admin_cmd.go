package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentmemory/memoryd/internal/config"
	"github.com/agentmemory/memoryd/internal/pruner"
)

func newAdminCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator maintenance commands: stats, compact, prune, and job control",
	}

	cmd.AddCommand(
		newAdminStatsCmd(cfgPath),
		newAdminCompactCmd(cfgPath),
		newAdminPruneCmd(cfgPath),
		newAdminJobsCmd(cfgPath),
	)
	return cmd
}

func newAdminStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine-wide counts and accelerator health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.admin.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func newAdminCompactCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Flush the BM25 batch and rebuild the vector index graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return a.admin.Compact(cmd.Context())
		},
	}
}

func newAdminPruneCmd(cfgPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Run a retention sweep over the BM25 and vector accelerators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			pruneCfg := pruner.DefaultConfig()
			pruneCfg.DryRun = dryRun
			report, err := a.admin.Prune(cmd.Context(), pruneCfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting anything")
	return cmd
}

func newAdminJobsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and control background jobs",
	}
	cmd.AddCommand(newAdminJobsListCmd(cfgPath), newAdminJobsPauseCmd(cfgPath), newAdminJobsResumeCmd(cfgPath))
	return cmd
}

func newAdminJobsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered background job and its pause state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			for _, s := range a.admin.ListJobs() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tpaused=%t\n", s.Name, s.Paused)
			}
			return nil
		},
	}
}

func newAdminJobsPauseCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [name]",
		Short: "Pause a background job by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return a.admin.PauseJob(args[0])
		},
	}
}

func newAdminJobsResumeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [name]",
		Short: "Resume a paused background job by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return a.admin.ResumeJob(args[0])
		},
	}
}
