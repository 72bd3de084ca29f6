package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/facebookgo/clock"

	"github.com/jdholdren/readly/internal/readly"
)

type ConfigStore interface {
	ReadConfig(ctx context.Context, token string) (readly.UserConfig, error)
	WriteConfig(ctx context.Context, token string, cfg readly.UserConfig) error
}

// Config is one user's subscriptions and preferences. Unlike [State], its
// writes happen immediately. A failed write keeps the local change; the
// error is logged, recorded and returned.
type Config struct {
	store ConfigStore
	clock clock.Clock

	// Held from a mutation until its write is done, so writes land in
	// mutation order.
	writeMu sync.Mutex

	mu      sync.Mutex
	cfg     readly.UserConfig
	syncing bool
	err     error
}

func NewConfig(store ConfigStore, clk clock.Clock) *Config {
	if clk == nil {
		clk = clock.New()
	}
	return &Config{
		store: store,
		clock: clk,
		cfg:   readly.DefaultConfig(),
	}
}

// Load replaces the in-memory config with the stored one, creating the
// stored one if needed. On failure the in-memory config is left alone.
func (c *Config) Load(ctx context.Context, token string) error {
	c.mu.Lock()
	c.syncing = true
	c.mu.Unlock()

	cfg, err := c.store.ReadConfig(ctx, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncing = false
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		c.err = err
		return err
	}
	c.cfg = cfg
	c.err = nil

	return nil
}

func (c *Config) Snapshot() readly.UserConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	return cloneConfig(c.cfg)
}

func (c *Config) Feeds() []readly.FeedSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.cfg.Feeds)
}

func (c *Config) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.syncing
}

func (c *Config) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// AddFeed subscribes to url. A URL that is already subscribed is ignored
// and added is false.
func (c *Config) AddFeed(ctx context.Context, url, title, token string) (added bool, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snapshot, changed := c.mutate(func(cfg *readly.UserConfig) bool {
		if cfg.HasFeed(url) {
			return false
		}
		cfg.Feeds = append(cfg.Feeds, readly.FeedSubscription{
			URL:    url,
			Title:  title,
			Folder: "",
			Added:  c.clock.Now().UTC(),
		})
		return true
	})
	if !changed {
		return false, nil
	}

	return true, c.write(ctx, token, snapshot)
}

func (c *Config) RemoveFeed(ctx context.Context, url, token string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snapshot, _ := c.mutate(func(cfg *readly.UserConfig) bool {
		cfg.Feeds = slices.DeleteFunc(cfg.Feeds, func(f readly.FeedSubscription) bool {
			return f.URL == url
		})
		return true
	})

	return c.write(ctx, token, snapshot)
}

// SetPreferences replaces the preferences. They are assumed valid.
func (c *Config) SetPreferences(ctx context.Context, prefs readly.UserPreferences, token string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snapshot, _ := c.mutate(func(cfg *readly.UserConfig) bool {
		cfg.Preferences = prefs
		return true
	})

	return c.write(ctx, token, snapshot)
}

// Replace swaps in a whole config, such as one edited on another device.
// It is assumed valid.
func (c *Config) Replace(ctx context.Context, cfg readly.UserConfig, token string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snapshot, _ := c.mutate(func(cur *readly.UserConfig) bool {
		*cur = cloneConfig(cfg)
		if cur.Feeds == nil {
			cur.Feeds = []readly.FeedSubscription{}
		}
		if cur.Folders == nil {
			cur.Folders = []string{}
		}
		return true
	})

	return c.write(ctx, token, snapshot)
}

// SetFeeds replaces the feed list locally without writing it.
func (c *Config) SetFeeds(feeds []readly.FeedSubscription) {
	c.mutate(func(cfg *readly.UserConfig) bool {
		cfg.Feeds = slices.Clone(feeds)
		if cfg.Feeds == nil {
			cfg.Feeds = []readly.FeedSubscription{}
		}
		return true
	})
}

func (c *Config) mutate(fn func(cfg *readly.UserConfig) bool) (readly.UserConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !fn(&c.cfg) {
		return readly.UserConfig{}, false
	}

	return cloneConfig(c.cfg), true
}

// write stores cfg. c.writeMu must be held.
func (c *Config) write(ctx context.Context, token string, cfg readly.UserConfig) error {
	if token == "" {
		return nil
	}

	c.mu.Lock()
	c.syncing = true
	c.mu.Unlock()

	err := c.store.WriteConfig(ctx, token, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncing = false
	if err != nil {
		slog.ErrorContext(ctx, "failed to save config", "error", err)
		c.err = err
		return err
	}
	c.err = nil

	return nil
}

func cloneConfig(cfg readly.UserConfig) readly.UserConfig {
	cfg.Feeds = slices.Clone(cfg.Feeds)
	cfg.Folders = slices.Clone(cfg.Folders)
	return cfg
}
