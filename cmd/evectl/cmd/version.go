package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eveboxstack/evebox-review/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build time of evectl.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), version.GetBuildInfo())
		}
		fmt.Fprintln(cmd.OutOrStdout(), version.String("evectl"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
