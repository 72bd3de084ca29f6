package sync

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"html"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/jdholdren/readly/internal/readly"
)

const (
	idLength      = 12
	summaryLength = 300
	untitledEntry = "Untitled"
)

// EntryID derives an entry's ID from its link: the first 12 hex characters
// of the link's SHA-256 digest. An empty link still gets a stable ID.
func EntryID(link string) string {
	sum := sha256.Sum256([]byte(link))
	return hex.EncodeToString(sum[:])[:idLength]
}

func (p *Parser) normalizeItem(item *gofeed.Item) readly.FeedEntry {
	return readly.FeedEntry{
		ID:        EntryID(item.Link),
		Title:     cmp.Or(item.Title, untitledEntry),
		URL:       item.Link,
		Published: p.published(item),
		Summary:   truncate(summaryOf(item), summaryLength),
		Content:   item.Content,
		Author:    authorOf(item),
	}
}

// Parsed dates first, then whatever the raw strings can be coaxed into,
// then the clock.
func (p *Parser) published(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	for _, raw := range []string{item.Published, item.Updated} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			return t.UTC()
		}
	}

	return p.clock.Now().UTC()
}

var stripPolicy = bluemonday.StrictPolicy()

// The text-only snippet of the body wins, then the raw description, then
// the raw content.
func summaryOf(item *gofeed.Item) string {
	if snippet := snippet(cmp.Or(item.Content, item.Description)); snippet != "" {
		return snippet
	}

	return cmp.Or(item.Description, item.Content)
}

// Removes all html tags and collapses whitespace.
func snippet(s string) string {
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Cuts on characters, not bytes and not words.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func authorOf(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}

	return ""
}
