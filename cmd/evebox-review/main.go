package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/eveboxstack/evebox-review/internal/api"
	"github.com/eveboxstack/evebox-review/internal/config"
	"github.com/eveboxstack/evebox-review/internal/engine"
	"github.com/eveboxstack/evebox-review/internal/metrics"
	"github.com/eveboxstack/evebox-review/internal/services"
	"github.com/eveboxstack/evebox-review/internal/utils"
	"github.com/eveboxstack/evebox-review/internal/version"
)

func main() {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.String("evebox-review"))
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting evebox-review",
		slog.String("version", version.Version),
		slog.String("evebox", cfg.Clients.EveBox.BaseURL),
		slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	client, transport := services.NewEventIndexClientFromConfig(cfg, logger)

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	if ruleEngine == nil {
		logger.Warn("no rule pack loaded, sweeps will be skipped", slog.String("path", cfg.Rules.Path))
	}

	sweeper := engine.NewSweeper(logger, client, ruleEngine, engine.SweepOptions{
		TimeRange: cfg.Rules.TimeRange,
		DryRun:    cfg.Rules.DryRun,
	})
	scheduler, err := engine.NewScheduler(logger, sweeper, cfg.Rules.Schedule)
	if err != nil {
		logger.Error("failed to create sweep scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}
	reporter := api.NewHealthReporter(logger, client, server.Health(), cfg.Server.HealthInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("gRPC admin server listening", slog.String("address", server.Address()))
		if err := server.Start(); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if cfg.Rules.Watch && ruleEngine != nil {
		g.Go(func() error {
			if err := ruleEngine.Watch(gctx); err != nil {
				logger.Warn("rules watcher stopped", slog.Any("error", err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)

		if err := client.Drain(shutdownCtx); err != nil {
			logger.Warn("pending jobs abandoned", slog.Int("jobs", client.JobSize()), slog.Any("error", err))
		}

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("evebox-review exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	if n := transport.Latency().Count(); n > 0 {
		logger.Info("evebox request latency", slog.Duration("p95", transport.Latency().Percentile(95)), slog.Int("samples", n))
	}
	logger.Info("evebox-review stopped")
}
