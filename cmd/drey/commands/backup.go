package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/printer"
)

var backupShardAddr string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Drive shard backup and restore (admin)",
}

var backupSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Stage a full snapshot of one shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		var resp map[string]int
		if err := postShard(ctx, "/backup/snapshot", &resp); err != nil {
			return printer.Error("Snapshot failed", err.Error(),
				[]string{"Check the --caller identity is an admin on the shard"})
		}
		printer.Success("Snapshot staged as %d chunk(s) on %s\n", resp["chunks"], backupShardAddr)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace a shard's records with its staged backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		var resp map[string]bool
		if err := postShard(ctx, "/backup/restore", &resp); err != nil {
			return printer.Error("Restore failed", err.Error(), nil)
		}
		printer.Success("Shard %s restored from staged backup\n", backupShardAddr)
		return nil
	},
}

func postShard(ctx context.Context, path string, out any) error {
	return cluster.PostJSON(ctx, backupShardAddr+path, callerIdentity, struct{}{}, out)
}

func init() {
	backupCmd.PersistentFlags().StringVar(&backupShardAddr, "shard", "", "shard base URL")
	_ = backupCmd.MarkPersistentFlagRequired("shard")
	backupCmd.AddCommand(backupSnapshotCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}
