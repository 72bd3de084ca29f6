// Fetch runs one ingestion pass: it reads the feed list from the user's
// Drive, fetches every feed and writes the bundle.
//
// Exit status is 0 when every feed made it into the bundle, 2 when the
// bundle was written but some feeds failed, and 1 when no bundle could be
// produced.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/readly/internal/auth"
	"github.com/jdholdren/readly/internal/drive"
	"github.com/jdholdren/readly/internal/ingest"
	"github.com/jdholdren/readly/internal/logger"
	"github.com/jdholdren/readly/internal/readly"
	"github.com/jdholdren/readly/internal/sync"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

type config struct {
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRefreshToken string `env:"GOOGLE_REFRESH_TOKEN"`

	TokenURL       string        `env:"TOKEN_URL, default=https://oauth2.googleapis.com/token"`
	DriveAPIURL    string        `env:"DRIVE_API_URL, default=https://www.googleapis.com/drive/v3"`
	DriveUploadURL string        `env:"DRIVE_UPLOAD_URL, default=https://www.googleapis.com/upload/drive/v3"`
	DriveTimeout   time.Duration `env:"DRIVE_TIMEOUT, default=30s"`

	// Where the bundle goes; "-" writes it to stdout.
	BundlePath string `env:"BUNDLE_PATH, default=feed-bundle.json"`

	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT, default=15s"`
	FetchRetries    uint64        `env:"FETCH_RETRIES, default=2"`
	FetchRetryDelay time.Duration `env:"FETCH_RETRY_DELAY, default=1s"`
	MaxFeedSize     int64         `env:"MAX_FEED_SIZE, default=10485760"`
	MaxConcurrency  int           `env:"MAX_CONCURRENCY, default=0"`
	MaxEntries      int           `env:"MAX_ENTRIES, default=50"`
	UserAgent       string        `env:"USER_AGENT"`

	// Which format to use for logging: either text or json
	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`
}

func (c config) credentials() auth.Credentials {
	return auth.Credentials{
		ClientID:     c.GoogleClientID,
		ClientSecret: c.GoogleClientSecret,
		RefreshToken: c.GoogleRefreshToken,
	}
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

	code := run(ctx, cfg, os.Stdout)
	cancel()
	os.Exit(code)
}

func (c config) fetcherOptions() []sync.FetcherOption {
	opts := []sync.FetcherOption{
		// Feed hosts and Google get separate clients.
		sync.WithHTTPClient(&http.Client{}),
		sync.WithTimeout(c.FetchTimeout),
		sync.WithRetries(c.FetchRetries),
		sync.WithRetryDelay(c.FetchRetryDelay),
	}
	if c.UserAgent != "" {
		opts = append(opts, sync.WithUserAgent(c.UserAgent))
	}
	if c.MaxFeedSize > 0 {
		opts = append(opts, sync.WithMaxSize(c.MaxFeedSize))
	}

	return opts
}

func run(ctx context.Context, cfg config, stdout io.Writer) int {
	in := &ingest.Ingester{
		Fetcher:        sync.NewFetcher(cfg.fetcherOptions()...),
		Parser:         sync.NewParser(),
		MaxConcurrency: cfg.MaxConcurrency,
		MaxEntries:     cfg.MaxEntries,
	}
	if creds := cfg.credentials(); creds.Complete() {
		google := &http.Client{Timeout: cfg.DriveTimeout}
		in.Tokens = auth.NewBroker(creds, auth.WithTokenURL(cfg.TokenURL), auth.WithHTTPClient(google))
		in.Configs = drive.New(
			drive.WithBaseURLs(cfg.DriveAPIURL, cfg.DriveUploadURL),
			drive.WithHTTPClient(google),
		)
	}

	res, err := in.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "ingestion failed", "error", err)
		return exitFatal
	}

	if err := writeBundle(cfg.BundlePath, stdout, res.Bundle); err != nil {
		slog.ErrorContext(ctx, "error writing bundle", "error", err)
		return exitFatal
	}
	slog.InfoContext(ctx, "bundle written", "path", cfg.BundlePath, "feeds", len(res.Bundle.Feeds))

	if len(res.Failures) > 0 {
		for _, f := range res.Failures {
			slog.WarnContext(ctx, "feed left out of bundle", "feed_url", f.URL, "error", f.Err)
		}
		return exitPartial
	}

	return exitOK
}

// writeBundle writes to a temp file next to path and renames it into place
// so readers never see a partial bundle.
func writeBundle(path string, stdout io.Writer, bundle readly.FeedBundle) error {
	if path == "-" {
		return encodeBundle(stdout, bundle)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".feed-bundle-*.json")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // No-op after the rename

	if err := encodeBundle(tmp, bundle); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error syncing bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing bundle: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("error setting bundle permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error moving bundle into place: %w", err)
	}

	return nil
}

func encodeBundle(w io.Writer, bundle readly.FeedBundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("error encoding bundle: %w", err)
	}

	return nil
}
