package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/eveboxstack/evebox-review/internal/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAlertGroups(w io.Writer, groups []models.AlertGroup) error {
	if output == "json" {
		return printJSON(w, groups)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "DATE\tCOUNT\tESCALATED\tSEVERITY\tSIGNATURE\tSRC\tDEST\n")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			formatTime(g.Date), g.Count, g.EscalatedCount, g.Event.SeverityLabel(),
			g.Signature(), g.Event.Source.SrcIP, g.Event.Source.DestIP)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d alert group(s)\n", len(groups))
	return nil
}

func printResultSet(w io.Writer, rs models.ResultSet) error {
	if output == "json" {
		return printJSON(w, rs)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TIMESTAMP\tTYPE\tSRC\tDEST\tTAGS\tID\n")
	for i := range rs.Events {
		e := &rs.Events[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n",
			formatTime(e.Time()), e.Source.EventType, e.Source.SrcIP, e.Source.DestIP, e.Source.Tags, e.ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d event(s) in %dms", rs.Count, rs.Took)
	if rs.TimedOut {
		fmt.Fprint(w, " (timed out)")
	}
	fmt.Fprintln(w)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
