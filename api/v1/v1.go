// Package v1 holds the request and response bodies of the readly HTTP API.
package v1

import (
	"net/http"
	"net/url"
	"time"

	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/readly"
)

type AddFeedRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Validate checks that the body (minus logic checks) is valid.
func (r AddFeedRequest) Validate() error {
	var details []rerrs.Detail
	if r.URL == "" {
		details = append(details, rerrs.Detail{Field: "url", Error: "url is required"})
	} else if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		details = append(details, rerrs.Detail{Field: "url", Error: "url must be an absolute http(s) url"})
	}
	if len(details) > 0 {
		return rerrs.E("request was invalid", http.StatusBadRequest, details)
	}

	return nil
}

type AddFeedResponse struct {
	Added  bool              `json:"added"`
	Config readly.UserConfig `json:"config"`
}

type PreferencesRequest struct {
	RefreshInterval int          `json:"refreshInterval"`
	Theme           readly.Theme `json:"theme"`
	DefaultView     readly.View  `json:"defaultView"`
}

func (r PreferencesRequest) Preferences() readly.UserPreferences {
	return readly.UserPreferences{
		RefreshInterval: r.RefreshInterval,
		Theme:           r.Theme,
		DefaultView:     r.DefaultView,
	}
}

func (r PreferencesRequest) Validate() error {
	return r.Preferences().Validate()
}

// StateResponse is the caller's read/saved state. Syncing is true while a
// write to the store is in flight or pending.
type StateResponse struct {
	Read     []string  `json:"read"`
	Saved    []string  `json:"saved"`
	LastSync time.Time `json:"lastSync"`
	Syncing  bool      `json:"syncing"`
}

type SavedResponse struct {
	EntryID string `json:"entryId"`
	Saved   bool   `json:"saved"`
}
