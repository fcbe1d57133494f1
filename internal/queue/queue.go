// Package queue runs backend mutations with a fixed concurrency limit.
//
// Jobs are admitted in submission order. At most Concurrency jobs run at any instant and
// every job is settled exactly once, with the error its operation returned.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eveboxstack/evebox-review/internal/metrics"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// DefaultConcurrency is the number of jobs allowed to run at once when none is configured.
const DefaultConcurrency = 4

// ErrNilOperation settles jobs submitted without an operation.
var ErrNilOperation = errors.New("queue: nil operation")

// Operation is one unit of backend work. The context carries the submitter's values but is
// never cancelled by the queue.
type Operation func(ctx context.Context) error

// Job is the handle returned by Submit.
type Job struct {
	id   string
	name string
	op   Operation
	ctx  context.Context

	done      chan struct{}
	err       error
	submitted time.Time
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Name returns the operation name given at submission.
func (j *Job) Name() string { return j.name }

// Done is closed once the job has settled.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the job outcome. It is nil until the job settles.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Settled reports whether the job has completed.
func (j *Job) Settled() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job settles or ctx is done. Giving up on the wait does not stop
// the job.
func (j *Job) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle must be called exactly once, with the queue lock held for queued jobs.
func (j *Job) settle(err error) {
	j.err = err
	close(j.done)
}

func (j *Job) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
	}()
	if j.op == nil {
		return ErrNilOperation
	}
	return j.op(j.ctx)
}

// Failed returns a job that is already settled with err. It never occupies a slot.
func Failed(name string, err error) *Job {
	job := newJob(context.Background(), name, nil)
	job.settle(err)
	return job
}

func newJob(ctx context.Context, name string, op Operation) *Job {
	return &Job{
		id:        uuid.NewString(),
		name:      name,
		op:        op,
		ctx:       ctx,
		done:      make(chan struct{}),
		submitted: time.Now(),
	}
}

// Queue is a FIFO scheduler with bounded concurrency. The zero value is not usable; call New.
type Queue struct {
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	pending []*Job
	running int
	idle    chan struct{}
}

// New constructs a Queue. Non-positive concurrency falls back to DefaultConcurrency.
func New(concurrency int, logger *slog.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Queue{
		concurrency: concurrency,
		logger:      utils.Component(logger, "queue"),
	}
}

// Concurrency returns the configured bound.
func (q *Queue) Concurrency() int { return q.concurrency }

// Submit enqueues op and returns its job. It never blocks on capacity and never fails
// synchronously; the outcome is delivered through the job. Submitting from inside a
// running operation is allowed.
func (q *Queue) Submit(ctx context.Context, name string, op Operation) *Job {
	if ctx == nil {
		ctx = context.Background()
	}
	job := newJob(context.WithoutCancel(ctx), name, op)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, job)
	q.admitLocked()
	q.logger.Debug("job submitted",
		slog.String("job", job.name),
		slog.String("id", job.id),
		slog.Int("pending", len(q.pending)),
		slog.Int("running", q.running))
	return job
}

// Size returns the number of jobs queued or running.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.running
}

// Running returns the number of jobs currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the number of jobs waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain blocks until every submitted job has settled or ctx is done. Jobs submitted while
// draining extend the wait.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.idle
		q.mu.Unlock()
		if idle == nil {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) admitLocked() {
	for q.running < q.concurrency && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		go q.run(job)
	}
	metrics.SetQueueDepth(len(q.pending), q.running)
}

func (q *Queue) run(job *Job) {
	started := time.Now()
	err := job.call()
	q.complete(job, err, time.Since(started))
}

func (q *Queue) complete(job *Job, err error, elapsed time.Duration) {
	q.mu.Lock()
	job.settle(err)
	q.running--
	q.admitLocked()
	if q.running == 0 && len(q.pending) == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
	q.mu.Unlock()

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		q.logger.Warn("job failed",
			slog.String("job", job.name),
			slog.String("id", job.id),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
	} else {
		q.logger.Debug("job settled",
			slog.String("job", job.name),
			slog.String("id", job.id),
			slog.Duration("elapsed", elapsed))
	}
	metrics.ObserveJob(job.name, time.Since(job.submitted), outcome)
}
