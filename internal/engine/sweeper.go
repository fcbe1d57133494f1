package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eveboxstack/evebox-review/internal/metrics"
	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/queue"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// AlertGroupClient is the part of the event index client a sweep needs.
type AlertGroupClient interface {
	GetAlerts(ctx context.Context, opts models.AlertQueryOptions) ([]models.AlertGroup, error)
	ArchiveAlertGroup(ctx context.Context, group *models.AlertGroup) *queue.Job
	EscalateAlertGroup(ctx context.Context, group *models.AlertGroup) *queue.Job
}

// SweepOptions tune a Sweeper.
type SweepOptions struct {
	// TimeRange limits the inbox to recent alerts; zero means no limit.
	TimeRange time.Duration
	// DryRun reports matches without submitting any mutation.
	DryRun bool
}

// SweepMatch is one alert group a rule matched.
type SweepMatch struct {
	RuleID      string `json:"rule"`
	Action      Action `json:"action"`
	SignatureID int64  `json:"signatureId"`
	Signature   string `json:"signature"`
	SrcIP       string `json:"srcIp"`
	DestIP      string `json:"destIp"`
	Count       int64  `json:"count"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
}

// SweepResult summarises a sweep.
type SweepResult struct {
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dryRun"`
	Examined  int           `json:"examined"`
	Archived  int           `json:"archived"`
	Escalated int           `json:"escalated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Matches   []SweepMatch  `json:"matches"`
}

// Sweeper applies the rule pack to the alert inbox.
type Sweeper struct {
	logger *slog.Logger
	client AlertGroupClient
	rules  *RuleEngine
	opts   SweepOptions
}

// NewSweeper constructs a Sweeper.
func NewSweeper(logger *slog.Logger, client AlertGroupClient, rules *RuleEngine, opts SweepOptions) *Sweeper {
	return &Sweeper{
		logger: utils.Component(logger, "sweeper"),
		client: client,
		rules:  rules,
		opts:   opts,
	}
}

// Sweep fetches the unarchived alert groups, submits the action of the first matching rule for
// each group and waits for every submitted job. Individual job failures are counted, not
// returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Started: time.Now(), DryRun: s.opts.DryRun}
	if s.client == nil {
		return result, fmt.Errorf("event index client not configured")
	}
	if len(s.rules.Rules()) == 0 {
		s.logger.Debug("no auto-archive rules loaded, skipping sweep")
		return result, nil
	}

	groups, err := s.client.GetAlerts(ctx, models.AlertQueryOptions{
		MustNotHaveTags: []string{models.TagArchived},
		TimeRange:       s.opts.TimeRange,
	})
	if err != nil {
		metrics.ObserveSweep(metrics.OutcomeError)
		return result, fmt.Errorf("fetch alert inbox: %w", err)
	}
	result.Examined = len(groups)

	type pending struct {
		index int
		job   *queue.Job
	}
	var jobs []pending
	for i := range groups {
		group := &groups[i]
		rule, ok := s.rules.Match(*group)
		if !ok {
			continue
		}
		match := SweepMatch{
			RuleID:    rule.ID,
			Action:    rule.Action,
			Signature: group.Signature(),
			SrcIP:     group.Event.Source.SrcIP,
			DestIP:    group.Event.Source.DestIP,
			Count:     group.Count,
		}
		if group.Event.Source.Alert != nil {
			match.SignatureID = group.Event.Source.Alert.SignatureID
		}
		if rule.Action == ActionEscalate && group.Count > 0 && group.EscalatedCount >= group.Count {
			result.Skipped++
			continue
		}
		result.Matches = append(result.Matches, match)
		if s.opts.DryRun {
			continue
		}

		var job *queue.Job
		switch rule.Action {
		case ActionEscalate:
			job = s.client.EscalateAlertGroup(ctx, group)
		default:
			job = s.client.ArchiveAlertGroup(ctx, group)
		}
		jobs = append(jobs, pending{index: len(result.Matches) - 1, job: job})
	}

	for _, p := range jobs {
		m := &result.Matches[p.index]
		if err := p.job.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				result.Duration = time.Since(result.Started)
				metrics.ObserveSweep(metrics.OutcomeError)
				return result, fmt.Errorf("sweep interrupted: %w", ctx.Err())
			}
			m.Err = err
			m.Error = err.Error()
			result.Failed++
			metrics.ObserveSweepGroup(string(m.Action), metrics.OutcomeError)
			s.logger.Warn("auto-archive action failed",
				slog.String("rule", m.RuleID),
				slog.String("action", string(m.Action)),
				slog.Int64("signature_id", m.SignatureID),
				slog.Any("error", err))
			continue
		}
		metrics.ObserveSweepGroup(string(m.Action), metrics.OutcomeSuccess)
		if m.Action == ActionEscalate {
			result.Escalated++
		} else {
			result.Archived++
		}
	}

	result.Duration = time.Since(result.Started)
	metrics.ObserveSweep(metrics.OutcomeSuccess)
	s.logger.Info("sweep complete",
		slog.Bool("dry_run", result.DryRun),
		slog.Int("examined", result.Examined),
		slog.Int("matched", len(result.Matches)),
		slog.Int("archived", result.Archived),
		slog.Int("escalated", result.Escalated),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", result.Duration))
	return result, nil
}
