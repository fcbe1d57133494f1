package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/eveboxstack/evebox-review/internal/utils"
)

// Scheduler runs sweeps on a cron schedule. A sweep that is still running when the next tick
// fires causes that tick to be skipped.
type Scheduler struct {
	logger  *slog.Logger
	sweeper *Sweeper
	cron    *cron.Cron

	mu   sync.Mutex
	last *SweepResult
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as "@every 5m").
func NewScheduler(logger *slog.Logger, sweeper *Sweeper, spec string) (*Scheduler, error) {
	logger = utils.Component(logger, "scheduler")
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		logger:  logger,
		sweeper: sweeper,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a running sweep.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sweep scheduler started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("sweep scheduler stopped")
	return nil
}

// Last returns the result of the most recent completed sweep.
func (s *Scheduler) Last() (SweepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return SweepResult{}, false
	}
	return *s.last, true
}

func (s *Scheduler) runOnce() {
	result, err := s.sweeper.Sweep(context.Background())
	if err != nil {
		s.logger.Error("scheduled sweep failed", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
