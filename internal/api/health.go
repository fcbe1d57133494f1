package api

import (
	"context"
	"log/slog"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// HealthService is the service name whose status follows backend reachability.
const HealthService = "evebox-review.EventIndex"

// Pinger checks backend reachability.
type Pinger interface {
	Ping(ctx context.Context) (models.VersionResponse, error)
}

// StatusSetter receives serving status updates. *health.Server implements it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// HealthReporter pings the backend periodically and publishes the result as gRPC health.
type HealthReporter struct {
	logger   *slog.Logger
	pinger   Pinger
	status   StatusSetter
	interval time.Duration
	timeout  time.Duration

	checked bool
	serving bool
}

// NewHealthReporter constructs a reporter. Non-positive intervals default to 30s.
func NewHealthReporter(logger *slog.Logger, pinger Pinger, status StatusSetter, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &HealthReporter{
		logger:   utils.Component(logger, "health"),
		pinger:   pinger,
		status:   status,
		interval: interval,
		timeout:  timeout,
	}
}

// Run checks immediately and then on every interval until ctx is done.
func (r *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Check pings once and updates the serving status.
func (r *HealthReporter) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	version, err := r.pinger.Ping(pingCtx)
	serving := err == nil
	state := healthpb.HealthCheckResponse_SERVING
	if !serving {
		state = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.status.SetServingStatus("", state)
	r.status.SetServingStatus(HealthService, state)

	// The first result is always logged; later ones only on change.
	if !r.checked || serving != r.serving {
		if serving {
			r.logger.Info("evebox reachable", slog.String("version", version.Version), slog.String("revision", version.Revision))
		} else {
			r.logger.Warn("evebox unreachable", slog.Any("error", err))
		}
	}
	r.checked = true
	r.serving = serving
	return serving
}
