package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/internal/printer"
	"github.com/dreyhq/drey/pkg/event"
)

var (
	eventsLimit     int
	eventsPage      int
	eventsGroup     string
	eventsSortField string
	eventsSortDesc  bool
	eventsName      string
	eventsOwner     string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query events across the whole cluster",
	Long: `Runs the cross-shard aggregated read through the orchestrator. Filters
combine with AND semantics; an empty filter set returns everything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		req := cluster.EventQueryRequest{
			FilterType: event.FilterTypeAnd,
			Sort: event.Sort{
				Field:     event.SortField(eventsSortField),
				Direction: event.SortAsc,
			},
			Limit: eventsLimit,
			Page:  eventsPage,
		}
		if eventsSortDesc {
			req.Sort.Direction = event.SortDesc
		}
		if eventsGroup != "" {
			req.Group = &eventsGroup
		}
		if eventsName != "" {
			req.Filters = append(req.Filters, event.Filter{Field: event.FilterName, Text: eventsName})
		}
		if eventsOwner != "" {
			req.Filters = append(req.Filters, event.Filter{Field: event.FilterOwner, Owner: eventsOwner})
		}

		page, err := parentClient().QueryEvents(ctx, req)
		if err != nil {
			return printer.Error("Query failed", err.Error(), nil)
		}

		printer.Header("Page %d/%d (%d events total)\n", page.Page, page.TotalPages, page.Total)
		for _, e := range page.Data {
			state := ""
			if e.Canceled.Flag {
				state = " [canceled]"
			}
			printer.Info("%-44s %-30s attendees=%d%s\n", e.Identifier, e.Name, e.AttendeeCount, state)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "page size")
	eventsCmd.Flags().IntVar(&eventsPage, "page", 0, "zero-indexed page")
	eventsCmd.Flags().StringVar(&eventsGroup, "group", "", "scope to one group identity")
	eventsCmd.Flags().StringVar(&eventsSortField, "sort", string(event.SortCreatedAt), "sort field")
	eventsCmd.Flags().BoolVar(&eventsSortDesc, "desc", false, "sort descending")
	eventsCmd.Flags().StringVar(&eventsName, "name", "", "name substring filter")
	eventsCmd.Flags().StringVar(&eventsOwner, "owner", "", "owner identity filter")
	rootCmd.AddCommand(eventsCmd)
}
