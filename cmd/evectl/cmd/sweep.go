package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eveboxstack/evebox-review/internal/engine"
)

var (
	sweepRulesPath string
	sweepDryRun    bool
	sweepRange     string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply the auto-archive rules to the alert inbox once",
	Long: `Fetch the unarchived alert groups, match them against the rule pack and
archive or escalate every matching group.

Examples:
  # See what would happen
  evectl sweep --dry-run

  # Use a different rule file
  evectl sweep --rules ./rules.yaml`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepRulesPath, "rules", "", "rule file (defaults to rules.path from the configuration)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report matches without changing anything")
	sweepCmd.Flags().StringVar(&sweepRange, "range", "", "inbox time range (defaults to rules.timeRange)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	path := cfg.Rules.Path
	if sweepRulesPath != "" {
		path = sweepRulesPath
	}
	rules, err := engine.NewRuleEngine(path, logger)
	if err != nil {
		return err
	}
	if rules == nil {
		return fmt.Errorf("rule file %s not found", path)
	}

	timeRange := cfg.Rules.TimeRange
	if sweepRange != "" {
		if timeRange, err = parseRange(sweepRange); err != nil {
			return err
		}
	}

	sweeper := engine.NewSweeper(logger, client, rules, engine.SweepOptions{
		TimeRange: timeRange,
		DryRun:    sweepDryRun || cfg.Rules.DryRun,
	})
	result, err := sweeper.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(w, result)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "RULE\tACTION\tCOUNT\tSIGNATURE\tSRC\tDEST\tRESULT\n")
	for _, m := range result.Matches {
		status := "ok"
		switch {
		case result.DryRun:
			status = "dry-run"
		case m.Err != nil:
			status = "error: " + m.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n", m.RuleID, m.Action, m.Count, m.Signature, m.SrcIP, m.DestIP, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "examined %d, archived %d, escalated %d, skipped %d, failed %d\n",
		result.Examined, result.Archived, result.Escalated, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d sweep action(s) failed", result.Failed)
	}
	return nil
}
