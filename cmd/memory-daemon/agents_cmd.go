package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmemory/memoryd/internal/agents"
	"github.com/agentmemory/memoryd/internal/config"
)

func newAgentsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Cross-agent discovery over the table of contents",
	}
	cmd.AddCommand(newAgentsListCmd(cfgPath), newAgentsActivityCmd(cfgPath))
	return cmd
}

func newAgentsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every distinct agent ID that has contributed to memory",
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

			ids, err := a.agents.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newAgentsActivityCmd(cfgPath *string) *cobra.Command {
	var from, to, bucket string
	cmd := &cobra.Command{
		Use:   "activity [agent-id]",
		Short: "Print bucketed contribution counts for an agent (or all agents if omitted)",
		Args:  cobra.MaximumNArgs(1),
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

			fromT, err := parseActivityTime(from, time.Now().UTC().AddDate(0, 0, -30))
			if err != nil {
				return fmt.Errorf("memory-daemon: --from: %w", err)
			}
			toT, err := parseActivityTime(to, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("memory-daemon: --to: %w", err)
			}

			var agentID string
			if len(args) == 1 {
				agentID = args[0]
			}
			points, err := a.agents.GetAgentActivity(cmd.Context(), agentID, fromT, toT, agents.Bucket(bucket))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(points)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start time (default: 30 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 end time (default: now)")
	cmd.Flags().StringVar(&bucket, "bucket", string(agents.BucketDay), "bucket granularity: day or week")
	return cmd
}

func parseActivityTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, s)
}
