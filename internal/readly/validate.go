package readly

import (
	"fmt"
	"net/http"

	rerrs "github.com/jdholdren/readly/internal/errors"
)

// Validate checks the preference values against their enumerations.
func (p UserPreferences) Validate() error {
	details := p.details("preferences.")
	if len(details) > 0 {
		return rerrs.E("invalid preferences", http.StatusBadRequest, details)
	}

	return nil
}

func (p UserPreferences) details(prefix string) []rerrs.Detail {
	var details []rerrs.Detail
	if p.RefreshInterval <= 0 {
		details = append(details, rerrs.Detail{
			Field: prefix + "refreshInterval",
			Error: "must be greater than zero",
		})
	}
	if !p.Theme.Valid() {
		details = append(details, rerrs.Detail{
			Field: prefix + "theme",
			Error: fmt.Sprintf("unknown theme %q", p.Theme),
		})
	}
	if !p.DefaultView.Valid() {
		details = append(details, rerrs.Detail{
			Field: prefix + "defaultView",
			Error: fmt.Sprintf("unknown view %q", p.DefaultView),
		})
	}

	return details
}

// Validate checks the config invariants: preferences within their
// enumerations and every feed having a unique, non-empty URL.
func (c UserConfig) Validate() error {
	details := c.Preferences.details("preferences.")

	seen := make(map[string]struct{}, len(c.Feeds))
	for i, f := range c.Feeds {
		field := fmt.Sprintf("feeds[%d].url", i)
		if f.URL == "" {
			details = append(details, rerrs.Detail{Field: field, Error: "url is required"})
			continue
		}
		if _, ok := seen[f.URL]; ok {
			details = append(details, rerrs.Detail{Field: field, Error: "duplicate feed url"})
			continue
		}
		seen[f.URL] = struct{}{}
	}

	if len(details) > 0 {
		return rerrs.E("invalid config", http.StatusBadRequest, details)
	}

	return nil
}
