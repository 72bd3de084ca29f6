// Package auth trades a long-lived refresh token for short-lived access
// tokens at an OAuth 2.0 token endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/readly"
)

// DefaultTokenURL is Google's token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// Credentials are the three values needed to mint access tokens without a
// user present.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Complete reports whether every value is set. Incomplete credentials mean
// there is no broker at all, not a broker that fails.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

type (
	Broker struct {
		conf   oauth2.Config
		client *http.Client
		creds  Credentials
	}

	BrokerOption func(*Broker)
)

func WithTokenURL(u string) BrokerOption {
	return func(b *Broker) {
		b.conf.Endpoint.TokenURL = u
	}
}

func WithHTTPClient(c *http.Client) BrokerOption {
	return func(b *Broker) {
		b.client = c
	}
}

func NewBroker(creds Credentials, opts ...BrokerOption) *Broker {
	b := &Broker{
		creds: creds,
		conf: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  DefaultTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// AccessToken performs one refresh-token grant and returns the access token.
// It never retries. A rejected grant comes back as [readly.ErrAuthFailure]
// inside an error carrying the endpoint's status code and body.
func (b *Broker) AccessToken(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)

	// A fresh source each call so nothing is cached between runs.
	src := b.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: b.creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			return "", rerrs.E(
				fmt.Errorf("%w (%d): %s", readly.ErrAuthFailure, rErr.Response.StatusCode, rErr.Body),
				rErr.Response.StatusCode,
			)
		}

		return "", rerrs.E(fmt.Errorf("%w: %w", readly.ErrAuthFailure, err), http.StatusBadGateway)
	}

	return tok.AccessToken, nil
}
