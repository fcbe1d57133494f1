package services

import (
	"log/slog"

	"github.com/eveboxstack/evebox-review/internal/cache"
	"github.com/eveboxstack/evebox-review/internal/config"
	"github.com/eveboxstack/evebox-review/internal/queue"
	"github.com/eveboxstack/evebox-review/internal/repo"
)

// NewEventIndexClientFromConfig builds the HTTP transport, queue and cache described by cfg.
func NewEventIndexClientFromConfig(cfg *config.Config, logger *slog.Logger) (*EventIndexClient, *repo.EveBoxAPI) {
	if logger == nil {
		logger = slog.Default()
	}
	keyword, reason := cfg.Keyword()
	if reason != "" {
		logger.Warn("using default keyword sub-field", slog.String("keyword", keyword), slog.String("reason", reason))
	} else {
		logger.Info("using keyword sub-field", slog.String("keyword", keyword))
	}

	transport := repo.NewEveBoxAPI(repo.EveBoxConfig{
		BaseURL:            cfg.Clients.EveBox.BaseURL,
		Username:           cfg.Clients.EveBox.Username,
		Password:           cfg.Clients.EveBox.Password,
		Timeout:            cfg.Clients.EveBox.Timeout,
		InsecureSkipVerify: cfg.Clients.EveBox.InsecureSkipVerify,
		RequestsPerSecond:  cfg.Clients.EveBox.RequestsPerSecond,
		Burst:              cfg.Clients.EveBox.Burst,
	}, logger)

	opts := Options{Keyword: keyword}
	if cfg.Cache.Enabled && cfg.Cache.EventTTL > 0 {
		opts.Cache = cache.NewMemoryProvider(cfg.Cache.MaxEntries)
		opts.CacheTTL = cfg.Cache.EventTTL
	}

	client := NewEventIndexClient(logger, transport, queue.New(cfg.Queue.Concurrency, logger), opts)
	return client, transport
}
