package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/internal/printer"
	"github.com/dreyhq/drey/pkg/event"
)

var getGroup string

var getCmd = &cobra.Command{
	Use:   "get <identifier>",
	Short: "Fetch one event by identifier",
	Long: `Decodes the identifier to its originating shard, resolves that shard's
address through the orchestrator registry, and fetches the event from it
directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, err := event.ParseIdentifier(args[0])
		if err != nil {
			return printer.Error("Malformed identifier", err.Error(),
				[]string{"Identifiers look like evt.<shard-uuid>.<sequence>"})
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		shards, err := parentClient().Shards(ctx)
		if err != nil {
			return printer.Error("Failed to list shards", err.Error(), nil)
		}

		addr := ""
		for _, s := range shards {
			if s.Identity == identifier.Shard {
				addr = s.Addr
				break
			}
		}
		if addr == "" {
			return printer.Error("Unknown shard", "no registered shard matches the identifier",
				[]string{"Run 'drey shards' to see the registry"})
		}

		entry, err := shardClient(addr).GetEvent(ctx, args[0], getGroup)
		if err != nil {
			return printer.Error("Failed to fetch event", err.Error(), nil)
		}

		printer.Header("%s\n", entry.Identifier)
		printer.Info("Name:       %s\n", entry.Name)
		printer.Info("Group:      %s\n", entry.Group)
		printer.Info("Owner:      %s\n", entry.Owner)
		printer.Info("Privacy:    %s\n", entry.Privacy)
		printer.Info("Attendees:  %d\n", entry.AttendeeCount)
		if entry.Canceled.Flag {
			printer.Warning("Canceled: %s\n", entry.Canceled.Reason)
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringVar(&getGroup, "group", "", "scope the read to one group identity")
	rootCmd.AddCommand(getCmd)
}
