// Package sync turns remote feeds into normalized feed data: it fetches a
// feed document with bounded retries and parses it into canonical entries.
package sync

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/facebookgo/clock"
	"github.com/mmcdole/gofeed"

	"github.com/jdholdren/readly/internal/readly"
)

// Parser converts RSS 2.0, Atom (and JSON Feed) documents into [readly.FeedData].
type Parser struct {
	clock clock.Clock
}

type ParserOption func(*Parser)

// WithClock sets the clock used for entries that carry no date at all.
func WithClock(c clock.Clock) ParserOption {
	return func(p *Parser) {
		p.clock = c
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Parse decodes data and normalizes every item. The feed title falls back to
// feedURL, and the returned data is always keyed by feedURL.
func (p *Parser) Parse(data []byte, feedURL string) (readly.FeedData, error) {
	// gofeed parsers keep decoding state, so each parse gets its own.
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return readly.FeedData{}, fmt.Errorf("%w: %s: %w", readly.ErrParseFailure, feedURL, err)
	}

	entries := make([]readly.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, p.normalizeItem(item))
	}

	return readly.FeedData{
		Title:   cmp.Or(feed.Title, feedURL),
		URL:     feedURL,
		Entries: entries,
	}, nil
}
