package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/server"
	"github.com/jdholdren/readly/internal/session"
)

const flushTimeout = 10 * time.Second

// userSession is everything held for one access token. The config and
// state are loaded from the store on first use.
type userSession struct {
	config *session.Config
	state  *session.State

	mu           sync.Mutex
	configLoaded bool
	stateLoaded  bool
}

type tokenKey struct{}

func requireTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := server.BearerToken(r)
		if tok == "" {
			server.WriteJSON(w, http.StatusUnauthorized, rerrs.E(http.StatusUnauthorized, "missing bearer token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, tok)))
	})
}

func token(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// session returns the caller's session, creating it if needed.
func (s *Server) session(ctx context.Context) *userSession {
	tok := token(ctx)
	if us, ok := s.sessions.Get(tok); ok {
		return us
	}

	us := &userSession{
		config: session.NewConfig(s.store, s.clock),
		state:  session.NewState(s.store, session.WithStateClock(s.clock), session.WithSyncDelay(s.syncDelay)),
	}
	// Another request may have added one in the meantime.
	if prev, ok, _ := s.sessions.PeekOrAdd(tok, us); ok {
		return prev
	}

	return us
}

// evicted runs when a session leaves the cache: its pending state write
// goes out now.
func (s *Server) evicted(_ string, us *userSession) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := us.state.Flush(ctx); err != nil {
		slog.ErrorContext(ctx, "error flushing evicted session", "error", err)
	}
	us.state.Close()
}

// ensureConfig loads the config once. A failed load is retried on the
// next call.
func (us *userSession) ensureConfig(ctx context.Context, tok string) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	if us.configLoaded {
		return nil
	}
	if err := us.config.Load(ctx, tok); err != nil {
		return err
	}
	us.configLoaded = true

	return nil
}

func (us *userSession) ensureState(ctx context.Context, tok string) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	if us.stateLoaded {
		return nil
	}
	if err := us.state.Load(ctx, tok); err != nil {
		return err
	}
	us.stateLoaded = true

	return nil
}
