// Package ingest runs one pass of the feed pipeline: read the user's feed
// list, fetch and parse every feed concurrently, and assemble the bundle.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/readly/internal/logger"
	"github.com/jdholdren/readly/internal/readly"
	"github.com/jdholdren/readly/internal/sync"
)

// DefaultMaxEntries caps how many entries of each feed make the bundle.
const DefaultMaxEntries = 50

type (
	// TokenSource mints access tokens for the document store.
	TokenSource interface {
		AccessToken(ctx context.Context) (string, error)
	}

	// ConfigReader loads a user's config with the given access token.
	ConfigReader interface {
		ReadConfig(ctx context.Context, token string) (readly.UserConfig, error)
	}

	// Fetcher returns the raw body of a feed.
	Fetcher interface {
		Fetch(ctx context.Context, url string) ([]byte, error)
	}

	// Ingester wires the pipeline together. A nil Tokens means no
	// credentials were configured, which makes for an empty feed list.
	Ingester struct {
		Tokens  TokenSource
		Configs ConfigReader
		Fetcher Fetcher
		Parser  *sync.Parser
		Clock   clock.Clock

		// Caps the number of feeds in flight; zero leaves it unbounded.
		MaxConcurrency int
		// Entries kept per feed; zero means DefaultMaxEntries.
		MaxEntries int
	}

	// Result is what a run produced. The bundle only holds the feeds that
	// succeeded; Failures lists the rest.
	Result struct {
		Bundle   readly.FeedBundle
		Failures []Failure
	}

	Failure struct {
		URL string
		Err error
	}

	// outcome is one task's slot, either a feed or an error.
	outcome struct {
		url  string
		feed readly.FeedData
		err  error
	}
)

// Run performs one ingestion. Failing to get a token or read the config is
// fatal and returns an error; a feed failing only lands in Result.Failures.
func (in *Ingester) Run(ctx context.Context) (Result, error) {
	clk := in.Clock
	if clk == nil {
		clk = clock.New()
	}
	start := clk.Now()

	urls, err := in.feedURLs(ctx)
	if err != nil {
		return Result{}, err
	}
	slog.InfoContext(ctx, "ingesting feeds", "count", len(urls))

	outcomes := make([]outcome, len(urls))
	g := errgroup.Group{}
	if in.MaxConcurrency > 0 {
		g.SetLimit(in.MaxConcurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			ctx := logger.Ctx(ctx, slog.String("feed_url", u))
			feed, err := in.ingestFeed(ctx, clk, u)
			if err != nil {
				slog.ErrorContext(ctx, "feed failed", "error", err)
			}
			outcomes[i] = outcome{url: u, feed: feed, err: err}

			// Never fail the group: one feed must not cancel the others.
			return nil
		})
	}
	g.Wait()

	res := Result{Bundle: readly.NewBundle(clk.Now())}
	for _, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, Failure{URL: o.url, Err: o.err})
			continue
		}
		res.Bundle.Feeds[o.url] = o.feed
	}

	slog.InfoContext(ctx, "ingestion finished",
		"succeeded", len(res.Bundle.Feeds),
		"failed", len(res.Failures),
		"duration", clk.Now().Sub(start),
	)

	return res, nil
}

func (in *Ingester) feedURLs(ctx context.Context) ([]string, error) {
	if in.Tokens == nil {
		slog.WarnContext(ctx, "no credentials configured, feed list is empty")
		return nil, nil
	}

	token, err := in.Tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting access token: %w", err)
	}
	cfg, err := in.Configs.ReadConfig(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	return dedupe(cfg.FeedURLs()), nil
}

func (in *Ingester) ingestFeed(ctx context.Context, clk clock.Clock, u string) (readly.FeedData, error) {
	start := clk.Now()

	body, err := in.Fetcher.Fetch(ctx, u)
	if err != nil {
		return readly.FeedData{}, err
	}
	feed, err := in.Parser.Parse(body, u)
	if err != nil {
		return readly.FeedData{}, err
	}

	feed.Entries = newest(feed.Entries, in.maxEntries())
	slog.DebugContext(ctx, "feed ingested", "entries", len(feed.Entries), "duration", clk.Now().Sub(start))

	return feed, nil
}

func (in *Ingester) maxEntries() int {
	if in.MaxEntries > 0 {
		return in.MaxEntries
	}
	return DefaultMaxEntries
}

// newest orders entries newest first, keeping the source order of ties,
// and drops everything past limit.
func newest(entries []readly.FeedEntry, limit int) []readly.FeedEntry {
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(a, b readly.FeedEntry) int {
		return b.Published.Compare(a.Published)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries
}

// The bundle is keyed by URL, so a URL listed twice is only fetched once.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	return out
}
