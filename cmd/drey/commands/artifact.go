package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/printer"
)

var (
	artifactLabel   string
	artifactVersion int64
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Inspect or replace the held code artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		resp, err := parentClient().ArtifactVersion(ctx)
		if err != nil {
			return printer.Error("Failed to read artifact version", err.Error(), nil)
		}
		if !resp.Held {
			printer.Warning("No artifact held yet\n")
			return nil
		}
		printer.Info("Artifact %q at version %d\n", resp.Label, resp.Version)
		return nil
	},
}

var artifactPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Replace the held code artifact (admin)",
	Long: `Pushes a new code artifact to the orchestrator. The payload must differ
from the held bytes and the version must be strictly higher than the held
one. Newly provisioned shards and the next upgrade sweep pick it up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return printer.Error("Failed to read artifact file", err.Error(), nil)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		req := cluster.ArtifactRequest{Label: artifactLabel, Bytes: payload, Version: artifactVersion}
		if err := parentClient().PushArtifact(ctx, req); err != nil {
			return printer.Error("Artifact push rejected", err.Error(),
				[]string{"Check the version is higher than the held one", "Check the --caller identity is an admin"})
		}
		printer.Success("Artifact %q now held at version %d\n", artifactLabel, artifactVersion)
		return nil
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade every outdated shard to the held artifact (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		resp, err := parentClient().UpgradeAll(ctx)
		if err != nil {
			return printer.Error("Upgrade sweep failed", err.Error(), nil)
		}

		printer.Success("Upgraded %d shard(s), %d already current\n", len(resp.Upgraded), len(resp.Skipped))
		for _, id := range resp.Failed {
			printer.Warning("Shard %s failed to upgrade\n", id)
		}
		return nil
	},
}

func init() {
	artifactPushCmd.Flags().StringVar(&artifactLabel, "label", "shard", "artifact label")
	artifactPushCmd.Flags().Int64Var(&artifactVersion, "version", 0, "artifact version (must increase)")
	_ = artifactPushCmd.MarkFlagRequired("version")
	artifactCmd.AddCommand(artifactPushCmd)
	rootCmd.AddCommand(artifactCmd)
	rootCmd.AddCommand(upgradeCmd)
}
