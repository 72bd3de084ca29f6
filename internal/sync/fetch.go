package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/readly/internal/readly"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = time.Second
	defaultUserAgent  = "readly/1.0 (feed fetcher)"

	// DefaultMaxSize caps a feed body. Bigger feeds fail without retries.
	DefaultMaxSize = 10 << 20
)

// ErrFeedTooLarge is returned, wrapped, for a body over the size limit.
var ErrFeedTooLarge = errors.New("feed too large")

// Fetcher GETs feed documents. Every attempt has its own timeout and failed
// attempts are retried with a linearly growing delay.
type Fetcher struct {
	client     *http.Client
	timeout    time.Duration
	retries    uint64
	retryDelay time.Duration
	userAgent  string
	maxSize    int64
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithRetries sets how many attempts follow the first failed one.
func WithRetries(n uint64) FetcherOption {
	return func(f *Fetcher) {
		f.retries = n
	}
}

// WithRetryDelay sets the base delay: retry n waits n times this long.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryDelay = d
	}
}

func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxSize overrides [DefaultMaxSize].
func WithMaxSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{},
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		userAgent:  defaultUserAgent,
		maxSize:    DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch returns the body of feedURL. Network errors, timeouts and non-2xx
// statuses are all retried alike; once retries run out the last error is
// returned wrapped in [readly.ErrFetchFailure]. A body over the size limit
// is not retried.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	var (
		body    []byte
		attempt int
	)
	b := retry.WithMaxRetries(f.retries, linearBackoff(f.retryDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++

		byts, err := f.attempt(ctx, feedURL)
		if err != nil {
			slog.DebugContext(ctx, "feed fetch attempt failed", "attempt", attempt, "error", err)
			if errors.Is(err, ErrFeedTooLarge) {
				return err
			}
			return retry.RetryableError(err)
		}

		body = byts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", readly.ErrFetchFailure, feedURL, attempt, err)
	}

	return body, nil
}

func (f *Fetcher) attempt(ctx context.Context, feedURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error getting feed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	byts, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("error reading feed body: %w", err)
	}
	if int64(len(byts)) > f.maxSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrFeedTooLarge, f.maxSize)
	}

	return byts, nil
}

// Retry n waits n*base. Bounded by the caller with retry.WithMaxRetries.
func linearBackoff(base time.Duration) retry.Backoff {
	var n atomic.Int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return time.Duration(n.Add(1)) * base, false
	})
}
