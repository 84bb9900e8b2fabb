// Package commands is the drey operator CLI: inspect the registry, run
// cross-shard queries, push code artifacts, trigger upgrades and drive
// shard backups.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/internal/cluster"
)

var (
	version string
	commit  string
	date    string

	orchestratorAddr string
	callerIdentity   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drey",
	Short: "drey - sharded event record store operator CLI",
	Long: `drey talks to a running drey cluster: the orchestrator that owns the
shard registry and code artifact, and the shards holding the event
records.

The caller identity is an opaque UUID sent with every request; admin
operations require an identity the cluster was configured to trust.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	// Errors are printed with color by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&orchestratorAddr, "orchestrator",
		envOr("DREY_ORCHESTRATOR", "http://localhost:8080"), "orchestrator base URL")
	rootCmd.PersistentFlags().StringVar(&callerIdentity, "caller",
		os.Getenv("DREY_CALLER"), "caller identity (UUID)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parentClient() *cluster.ParentClient {
	return cluster.NewParentClient(orchestratorAddr, callerIdentity)
}

func shardClient(addr string) *cluster.ShardClient {
	return cluster.NewShardClient(addr, callerIdentity)
}
