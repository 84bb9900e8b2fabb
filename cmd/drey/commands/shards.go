package commands

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/internal/printer"
)

var shardsCmd = &cobra.Command{
	Use:   "shards",
	Short: "List the registered shards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		shards, err := parentClient().Shards(ctx)
		if err != nil {
			return printer.Error("Failed to list shards", err.Error(),
				[]string{"Check that the orchestrator is reachable at the --orchestrator address"})
		}

		if len(shards) == 0 {
			printer.Warning("No shards registered yet\n")
			return nil
		}

		printer.Header("%-38s %-10s %-10s %-9s %s\n", "IDENTITY", "KIND", "AVAILABLE", "VERSION", "RANGE")
		for _, s := range shards {
			rangeEnd := "open"
			if s.RangeEnd != nil {
				rangeEnd = formatUint(*s.RangeEnd)
			}
			printer.Info("%-38s %-10s %-10t v%-8d %s..%s\n",
				s.Identity, s.Kind, s.Available, s.Version, formatUint(s.RangeStart), rangeEnd)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check orchestrator health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		resp, err := parentClient().Health(ctx)
		if err != nil {
			return printer.Error("Orchestrator unhealthy", err.Error(), nil)
		}
		printer.Success("Orchestrator %s: %s (redis: %s)\n", resp.Identity, resp.Status, resp.Redis)
		return nil
	},
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func init() {
	rootCmd.AddCommand(shardsCmd)
	rootCmd.AddCommand(healthCmd)
}
