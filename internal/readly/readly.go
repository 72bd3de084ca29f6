// Package readly holds the domain types shared by the ingestion pipeline,
// the document store and the interactive sessions.
package readly

import (
	"errors"
	"time"
)

// Error kinds. Callers check them with [errors.Is]; the concrete errors
// usually carry more context (status codes, URLs, response bodies).
var (
	ErrStoreUnavailable = errors.New("document store unavailable")
	ErrCorruptDocument  = errors.New("corrupt document")
	ErrAuthFailure      = errors.New("token exchange rejected")
	ErrFetchFailure     = errors.New("feed fetch failed")
	ErrParseFailure     = errors.New("feed parse failed")
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

type View string

const (
	ViewAll    View = "all"
	ViewUnread View = "unread"
	ViewSaved  View = "saved"
)

func (v View) Valid() bool {
	switch v {
	case ViewAll, ViewUnread, ViewSaved:
		return true
	}
	return false
}

type (
	// FeedSubscription is one feed the user follows. URL is the key.
	FeedSubscription struct {
		URL    string    `json:"url"`
		Title  string    `json:"title"`
		Folder string    `json:"folder"`
		Added  time.Time `json:"added"`
	}

	UserPreferences struct {
		RefreshInterval int   `json:"refreshInterval"` // minutes
		Theme           Theme `json:"theme"`
		DefaultView     View  `json:"defaultView"`
	}

	// UserConfig is a user's full subscription set. Folders is advisory and
	// isn't checked against the folder of each feed.
	UserConfig struct {
		Feeds       []FeedSubscription `json:"feeds"`
		Folders     []string           `json:"folders"`
		Preferences UserPreferences    `json:"preferences"`
	}

	// UserState holds the entry IDs a user has read or saved.
	UserState struct {
		Read     []string  `json:"read"`
		Saved    []string  `json:"saved"`
		LastSync time.Time `json:"lastSync"`
	}

	// FeedEntry is one normalized article.
	FeedEntry struct {
		ID        string    `json:"id"` // see sync.EntryID
		Title     string    `json:"title"`
		URL       string    `json:"url"`
		Published time.Time `json:"published"`
		Summary   string    `json:"summary"`
		Content   string    `json:"content,omitempty"`
		Author    string    `json:"author,omitempty"`
	}

	// FeedData is a snapshot of one feed. URL is the source feed URL, not an
	// article URL.
	FeedData struct {
		Title   string      `json:"title"`
		URL     string      `json:"url"`
		Entries []FeedEntry `json:"entries"`
	}

	// FeedBundle is the output of an ingestion run, keyed by the URL each
	// feed was fetched from.
	FeedBundle struct {
		Generated time.Time           `json:"generated"`
		Feeds     map[string]FeedData `json:"feeds"`
	}
)

// DefaultConfig is persisted when a user has no config document yet.
func DefaultConfig() UserConfig {
	return UserConfig{
		Feeds:   []FeedSubscription{},
		Folders: []string{},
		Preferences: UserPreferences{
			RefreshInterval: 30,
			Theme:           ThemeSystem,
			DefaultView:     ViewUnread,
		},
	}
}

// DefaultState is persisted when a user has no state document yet.
func DefaultState(now time.Time) UserState {
	return UserState{
		Read:     []string{},
		Saved:    []string{},
		LastSync: now.UTC(),
	}
}

// NewBundle returns an empty bundle stamped with generated.
func NewBundle(generated time.Time) FeedBundle {
	return FeedBundle{
		Generated: generated.UTC(),
		Feeds:     map[string]FeedData{},
	}
}

// FeedURLs returns the URLs of the subscribed feeds in insertion order.
func (c UserConfig) FeedURLs() []string {
	urls := make([]string, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		urls = append(urls, f.URL)
	}

	return urls
}

// HasFeed reports whether url is already subscribed.
func (c UserConfig) HasFeed(url string) bool {
	for _, f := range c.Feeds {
		if f.URL == url {
			return true
		}
	}

	return false
}
