package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eveboxstack/evebox-review/internal/models"
)

var (
	alertsTags      []string
	alertsNotTags   []string
	alertsRange     string
	alertsQuery     string
	alertsEscalated bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List alert groups",
	Long: `List alert groups (alerts sharing signature, source and destination).

By default the inbox view is shown: groups not tagged archived.

Examples:
  # Inbox for the last 6 hours
  evectl alerts --range 6h

  # Escalated alerts only, as JSON
  evectl alerts --escalated -o json

  # Filter with a query string
  evectl alerts --query 'src_ip:10.0.0.1'`,
	Args: cobra.NoArgs,
	RunE: runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)

	alertsCmd.Flags().StringSliceVar(&alertsTags, "tag", nil, "only groups carrying these tags")
	alertsCmd.Flags().StringSliceVar(&alertsNotTags, "not-tag", []string{models.TagArchived}, "exclude groups carrying these tags")
	alertsCmd.Flags().StringVar(&alertsRange, "range", "24h", "time range to look back over, e.g. 6h or 7d (0 for no limit)")
	alertsCmd.Flags().StringVarP(&alertsQuery, "query", "q", "", "query string")
	alertsCmd.Flags().BoolVar(&alertsEscalated, "escalated", false, "only escalated groups")
}

func runAlerts(cmd *cobra.Command, args []string) error {
	timeRange, err := parseRange(alertsRange)
	if err != nil {
		return err
	}
	opts := models.AlertQueryOptions{
		MustHaveTags:    alertsTags,
		MustNotHaveTags: alertsNotTags,
		TimeRange:       timeRange,
		QueryString:     alertsQuery,
	}
	if alertsEscalated {
		opts.MustHaveTags = append(opts.MustHaveTags, models.TagEscalated)
	}

	PrintVerbose("Fetching alert groups from %s", cfg.Clients.EveBox.BaseURL)
	groups, err := client.GetAlerts(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return printAlertGroups(cmd.OutOrStdout(), groups)
}
