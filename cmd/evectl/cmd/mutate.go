package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/queue"
)

type mutation struct {
	name  string
	short string
	// fetch loads the current document first so the local tag update can be reported.
	fetch  bool
	submit func(ctx context.Context, event *models.Event) *queue.Job
}

func init() {
	for _, m := range []mutation{
		{
			name:  "escalate",
			short: "Escalate (star) events",
			fetch: true,
			submit: func(ctx context.Context, e *models.Event) *queue.Job {
				return client.EscalateEvent(ctx, e)
			},
		},
		{
			name:  "de-escalate",
			short: "Remove the escalated state from events",
			fetch: true,
			submit: func(ctx context.Context, e *models.Event) *queue.Job {
				return client.DeEscalateEvent(ctx, e)
			},
		},
		{
			name:  "archive",
			short: "Archive events",
			submit: func(ctx context.Context, e *models.Event) *queue.Job {
				return client.ArchiveEvent(ctx, e)
			},
		},
	} {
		rootCmd.AddCommand(newMutationCmd(m))
	}
}

func newMutationCmd(m mutation) *cobra.Command {
	return &cobra.Command{
		Use:   m.name + " <id>...",
		Short: m.short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd, m, args)
		},
	}
}

func runMutation(cmd *cobra.Command, m mutation, ids []string) error {
	ctx := cmd.Context()

	events := make([]*models.Event, len(ids))
	if m.fetch {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Queue.Concurrency)
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				event, err := client.GetEventByID(gctx, id)
				if err != nil {
					return fmt.Errorf("fetch event %s: %w", id, err)
				}
				events[i] = event
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for i, id := range ids {
			events[i] = &models.Event{ID: id}
		}
	}

	jobs := make([]*queue.Job, len(events))
	for i, event := range events {
		jobs[i] = m.submit(ctx, event)
	}
	PrintVerbose("Submitted %d %s job(s), %d queued or running", len(jobs), m.name, client.JobSize())

	results := make([]mutationResult, len(jobs))
	failed := 0
	for i, job := range jobs {
		err := job.Wait(ctx)
		results[i] = mutationResult{ID: ids[i], Job: job.ID(), Tags: events[i].Source.Tags, OK: err == nil}
		if err != nil {
			results[i].Error = err.Error()
			failed++
		}
	}

	if err := printMutationResults(cmd, m, results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d %s request(s) failed", failed, len(jobs), m.name)
	}
	return nil
}

type mutationResult struct {
	ID    string   `json:"id"`
	Job   string   `json:"job"`
	OK    bool     `json:"ok"`
	Tags  []string `json:"tags,omitempty"`
	Error string   `json:"error,omitempty"`
}

func printMutationResults(cmd *cobra.Command, m mutation, results []mutationResult) error {
	w := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(w, results)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tRESULT\tTAGS\n")
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "error: " + r.Error
		}
		tags := "-"
		if m.fetch {
			tags = fmt.Sprint(r.Tags)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, status, tags)
	}
	return tw.Flush()
}
