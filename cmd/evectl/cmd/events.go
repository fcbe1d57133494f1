package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

var (
	eventsQuery string
	eventsType  string
	eventsFrom  string
	eventsTo    string
	eventsSince string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Search events of any type",
	Long: `Search all events, not just alerts. Results are shown newest first.

Examples:
  # DNS events from the last hour
  evectl events --type dns --since 1h

  # Events in an explicit window
  evectl events --from 2024-03-01T00:00:00Z --to 2024-03-01T06:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVarP(&eventsQuery, "query", "q", "", "query string")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", models.EventTypeAll, "event type (alert, dns, http, flow, ... or all)")
	eventsCmd.Flags().StringVar(&eventsFrom, "from", "", "oldest event timestamp")
	eventsCmd.Flags().StringVar(&eventsTo, "to", "", "newest event timestamp")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "look back this far from now, e.g. 30m (overrides --from)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	opts := models.EventQueryOptions{QueryString: eventsQuery, EventType: eventsType}

	if eventsFrom != "" {
		t, err := utils.ParseTimestamp(eventsFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		opts.TimeStart = t
	}
	if eventsTo != "" {
		t, err := utils.ParseTimestamp(eventsTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		opts.TimeEnd = t
	}
	if eventsSince != "" {
		d, err := parseRange(eventsSince)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		opts.TimeStart = time.Now().Add(-d)
	}

	rs, err := client.FindEvents(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return printResultSet(cmd.OutOrStdout(), rs)
}

// parseRange accepts Go durations plus a day suffix ("7d").
func parseRange(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid range %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid range %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid range %q: must not be negative", value)
	}
	return d, nil
}
