package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eveboxstack/evebox-review/internal/utils"
)

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":5636", "Listen address")
	flag.Parse()

	logger := utils.Component(utils.NewLogger(os.Getenv("MOCK_EVEBOX_LOG_LEVEL"), false), "mock-evebox")

	var creds map[string]string
	if user := os.Getenv("MOCK_EVEBOX_USERNAME"); user != "" {
		creds = map[string]string{user: os.Getenv("MOCK_EVEBOX_PASSWORD")}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(newStore(time.Now), logger, creds),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", slog.String("address", addr), slog.Bool("basic_auth", creds != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
