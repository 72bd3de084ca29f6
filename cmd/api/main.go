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

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/readly/internal/api"
	"github.com/jdholdren/readly/internal/drive"
	"github.com/jdholdren/readly/internal/logger"
)

type config struct {
	Port       int    `env:"PORT, default=4444"`
	BundlePath string `env:"BUNDLE_PATH, default=feed-bundle.json"`
	CorsOrigin string `env:"CORS_ORIGIN"`

	DriveAPIURL    string        `env:"DRIVE_API_URL, default=https://www.googleapis.com/drive/v3"`
	DriveUploadURL string        `env:"DRIVE_UPLOAD_URL, default=https://www.googleapis.com/upload/drive/v3"`
	DriveTimeout   time.Duration `env:"DRIVE_TIMEOUT, default=30s"`

	SessionCacheSize int           `env:"SESSION_CACHE_SIZE, default=256"`
	StateSyncDelay   time.Duration `env:"STATE_SYNC_DELAY, default=1s"`

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
	store := drive.New(
		drive.WithBaseURLs(cfg.DriveAPIURL, cfg.DriveUploadURL),
		drive.WithHTTPClient(&http.Client{Timeout: cfg.DriveTimeout}),
	)
	srvr, err := api.NewServer(api.ServerConfig{
		Port:             cfg.Port,
		BundlePath:       cfg.BundlePath,
		CorsOrigin:       cfg.CorsOrigin,
		SessionCacheSize: cfg.SessionCacheSize,
		SyncDelay:        cfg.StateSyncDelay,
	}, store)
	if err != nil {
		return fmt.Errorf("error creating server: %w", err)
	}

	var g run.Group
	g.Add(func() error {
		slog.Info("starting api server", "port", cfg.Port)
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %w", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
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
