package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/readly/internal/drive"
	"github.com/jdholdren/readly/internal/drivelocal"
	"github.com/jdholdren/readly/internal/readly"
	"github.com/jdholdren/readly/internal/sync"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return s.token, s.err
}

type staticConfig struct {
	cfg readly.UserConfig
	err error
}

func (s staticConfig) ReadConfig(context.Context, string) (readly.UserConfig, error) {
	return s.cfg, s.err
}

func configFor(urls ...string) readly.UserConfig {
	cfg := readly.DefaultConfig()
	for _, u := range urls {
		cfg.Feeds = append(cfg.Feeds, readly.FeedSubscription{URL: u, Title: u})
	}
	return cfg
}

const twoItemRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Two Items</title>
  <link>https://two.example</link>
  <item>
    <title>Older</title>
    <link>https://two.example/older</link>
    <description>older post</description>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Newer</title>
    <link>https://two.example/newer</link>
    <description>newer post</description>
    <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

// rssWithItems renders a feed whose item i was published i hours after a
// fixed base time, listed oldest first.
func rssWithItems(n int) string {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Big</title>`)
	for i := range n {
		fmt.Fprintf(&b, "<item><title>item %d</title><link>https://big.example/%d</link><pubDate>%s</pubDate></item>",
			i, i, base.Add(time.Duration(i)*time.Hour).Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func feedServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newIngester(tokens TokenSource, configs ConfigReader) *Ingester {
	return &Ingester{
		Tokens:  tokens,
		Configs: configs,
		Fetcher: sync.NewFetcher(sync.WithRetryDelay(time.Millisecond), sync.WithTimeout(time.Second)),
		Parser:  sync.NewParser(),
	}
}

func TestRun_TwoItemFeed(t *testing.T) {
	srv := feedServer(t, map[string]string{"/rss": twoItemRSS})
	u := srv.URL + "/rss"

	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: configFor(u)})
	res, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	require.Contains(t, res.Bundle.Feeds, u)
	feed := res.Bundle.Feeds[u]
	assert.Equal(t, "Two Items", feed.Title)
	assert.Equal(t, u, feed.URL)
	require.Len(t, feed.Entries, 2)
	assert.Equal(t, "Newer", feed.Entries[0].Title, "newest first")
	assert.Equal(t, "Older", feed.Entries[1].Title)
	assert.Equal(t, sync.EntryID("https://two.example/newer"), feed.Entries[0].ID)
}

func TestRun_PartialFailure(t *testing.T) {
	var badHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Write([]byte(twoItemRSS))
		case "/bad":
			badHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		case "/garbage":
			w.Write([]byte("this is not a feed"))
		}
	}))
	defer srv.Close()

	good, bad, garbage := srv.URL+"/good", srv.URL+"/bad", srv.URL+"/garbage"
	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: configFor(good, bad, garbage)})
	res, err := in.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Bundle.Feeds, 1)
	assert.Contains(t, res.Bundle.Feeds, good)
	assert.NotContains(t, res.Bundle.Feeds, bad)
	assert.NotContains(t, res.Bundle.Feeds, garbage)

	require.Len(t, res.Failures, 2)
	failures := map[string]error{}
	for _, f := range res.Failures {
		failures[f.URL] = f.Err
	}
	assert.ErrorIs(t, failures[bad], readly.ErrFetchFailure)
	assert.ErrorIs(t, failures[garbage], readly.ErrParseFailure)
	assert.Equal(t, int32(3), badHits.Load())
}

func TestRun_CapsEntriesKeepingNewest(t *testing.T) {
	srv := feedServer(t, map[string]string{"/big": rssWithItems(60)})
	u := srv.URL + "/big"

	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: configFor(u)})
	res, err := in.Run(context.Background())
	require.NoError(t, err)

	entries := res.Bundle.Feeds[u].Entries
	require.Len(t, entries, DefaultMaxEntries)
	assert.Equal(t, "item 59", entries[0].Title)
	assert.Equal(t, "item 10", entries[len(entries)-1].Title, "the ten oldest are dropped")
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Published.After(entries[i-1].Published))
	}
}

func TestRun_MaxEntriesOverride(t *testing.T) {
	srv := feedServer(t, map[string]string{"/big": rssWithItems(10)})
	u := srv.URL + "/big"

	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: configFor(u)})
	in.MaxEntries = 3
	res, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Bundle.Feeds[u].Entries, 3)
}

func TestRun_EmptyFeedList(t *testing.T) {
	clk := clock.NewMock()
	now := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)
	clk.Add(now.Sub(clk.Now()))

	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: readly.DefaultConfig()})
	in.Clock = clk
	res, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	byts, err := json.Marshal(res.Bundle)
	require.NoError(t, err)
	assert.JSONEq(t, `{"generated":"2024-02-02T02:02:02Z","feeds":{}}`, string(byts))
}

func TestRun_NoCredentials(t *testing.T) {
	in := newIngester(nil, staticConfig{err: errors.New("must not be called")})
	res, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Bundle.Feeds)
	assert.NotNil(t, res.Bundle.Feeds)
}

func TestRun_FatalErrors(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		in := newIngester(staticTokens{err: readly.ErrAuthFailure}, staticConfig{})
		_, err := in.Run(context.Background())
		assert.ErrorIs(t, err, readly.ErrAuthFailure)
	})

	t.Run("config", func(t *testing.T) {
		in := newIngester(staticTokens{token: "tok"}, staticConfig{err: readly.ErrStoreUnavailable})
		_, err := in.Run(context.Background())
		assert.ErrorIs(t, err, readly.ErrStoreUnavailable)
	})
}

func TestRun_DuplicateURLsFetchedOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(twoItemRSS))
	}))
	defer srv.Close()

	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: readly.UserConfig{
		Feeds: []readly.FeedSubscription{{URL: srv.URL}, {URL: srv.URL}},
	}})
	res, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Bundle.Feeds, 1)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRun_MaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(twoItemRSS))
	}))
	defer srv.Close()

	var urls []string
	for i := range 6 {
		urls = append(urls, fmt.Sprintf("%s/%d", srv.URL, i))
	}
	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: configFor(urls...)})
	in.MaxConcurrency = 2
	res, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Bundle.Feeds, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_AgainstDriveStore(t *testing.T) {
	ctx := context.Background()
	feeds := feedServer(t, map[string]string{"/rss": twoItemRSS})
	driveSrv, _ := drivelocal.NewTestServer(t)
	store := drive.New(drive.WithBaseURLs(driveSrv.URL+"/drive/v3", driveSrv.URL+"/upload/drive/v3"))

	require.NoError(t, store.WriteConfig(ctx, "tok", configFor(feeds.URL+"/rss")))

	in := newIngester(staticTokens{token: "tok"}, store)
	res, err := in.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Bundle.Feeds[feeds.URL+"/rss"].Entries, 2)
}

// slowFetcher serves body and moves the clock on by took per fetch.
type slowFetcher struct {
	clk  *clock.Mock
	took time.Duration
	body string
}

func (f slowFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.clk.Add(f.took)
	return []byte(f.body), nil
}

func TestRun_DurationsFromClock(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	clk := clock.NewMock()
	in := newIngester(staticTokens{token: "tok"}, staticConfig{cfg: configFor("https://two.example/rss")})
	in.Clock = clk
	in.Fetcher = slowFetcher{clk: clk, took: 3 * time.Second, body: twoItemRSS}

	_, err := in.Run(context.Background())
	require.NoError(t, err)

	durations := map[string]float64{}
	dec := json.NewDecoder(&logs)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		if d, ok := rec["duration"].(float64); ok {
			durations[rec["msg"].(string)] = d
		}
	}
	assert.Equal(t, float64(3*time.Second), durations["feed ingested"])
	assert.Equal(t, float64(3*time.Second), durations["ingestion finished"])
}

func TestNewest_StableForTies(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []readly.FeedEntry{
		{Title: "a", Published: ts},
		{Title: "b", Published: ts.Add(time.Hour)},
		{Title: "c", Published: ts},
	}

	got := newest(entries, 50)
	titles := []string{got[0].Title, got[1].Title, got[2].Title}
	assert.Equal(t, []string{"b", "a", "c"}, titles)
	assert.Equal(t, "a", entries[0].Title, "input is left alone")
}
