package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event <id>",
	Short: "Show a single event",
	Long: `Fetch one event by id and print it as JSON, including every field the
sensor recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		event, err := client.GetEventByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if output == "table" && event.IsAlert() {
			PrintVerbose("severity: %s", event.SeverityLabel())
		}
		if err := printJSON(cmd.OutOrStdout(), event); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
}
