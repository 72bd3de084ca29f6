// Drivelocal serves a local stand-in for the Drive API, so the fetcher and
// the API server can run without a Google account.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/facebookgo/clock"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/readly/internal/drivelocal"
	"github.com/jdholdren/readly/internal/logger"
	"github.com/jdholdren/readly/internal/server"
)

type config struct {
	Database string `env:"DATABASE, required"`
	Port     int    `env:"PORT, default=4455"`

	// When set, the only bearer token accepted. Otherwise any is.
	AccessToken string `env:"ACCESS_TOKEN"`

	// Which format to use for logging: either text or json
	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat, cfg.LogLevel))

	if err := runServer(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config) error {
	dbx, err := drivelocal.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	repo := drivelocal.NewRepo(dbx, clock.New())
	srvr := server.New(cfg.Port, drivelocal.NewServer(repo, cfg.AccessToken).Handler())

	var g run.Group
	g.Add(func() error {
		slog.Info("starting drivelocal", "port", cfg.Port, "database", cfg.Database)
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %w", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt))

	var sigErr run.SignalError
	if err := g.Run(); err != nil && !errors.As(err, &sigErr) && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
