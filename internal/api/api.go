// Package api serves users' configs and read/saved state over HTTP, backed
// by the document store, along with the latest feed bundle.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gorilla/handlers"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/readly/internal/server"
	"github.com/jdholdren/readly/internal/session"
)

// Store is the document store sessions read from and write to.
type Store interface {
	session.StateStore
	session.ConfigStore
}

type (
	// Server holds one session per access token, evicting the least
	// recently used once the cache is full.
	Server struct {
		*http.Server

		store      Store
		bundlePath string
		clock      clock.Clock
		syncDelay  time.Duration
		sessions   *lru.Cache[string, *userSession]
	}

	ServerConfig struct {
		Port             int
		BundlePath       string
		CorsOrigin       string
		SessionCacheSize int
		SyncDelay        time.Duration
		Clock            clock.Clock
	}
)

func NewServer(config ServerConfig, store Store) (*Server, error) {
	srvr := &Server{
		store:      store,
		bundlePath: config.BundlePath,
		clock:      config.Clock,
		syncDelay:  config.SyncDelay,
	}
	if srvr.clock == nil {
		srvr.clock = clock.New()
	}
	if srvr.syncDelay <= 0 {
		srvr.syncDelay = session.DefaultSyncDelay
	}

	size := config.SessionCacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.NewWithEvict(size, srvr.evicted)
	if err != nil {
		return nil, err
	}
	srvr.sessions = cache

	r := server.NewErrRouter()
	r.Use(server.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/api/bundle", srvr.getBundle).Methods(http.MethodGet)

	authed := server.ErrRouter{Router: r.PathPrefix("/api").Subrouter()}
	authed.Use(requireTokenMiddleware)

	// Config
	authed.HandleFuncE("/config", srvr.getConfig).Methods(http.MethodGet)
	authed.HandleFuncE("/config", srvr.putConfig).Methods(http.MethodPut)
	authed.HandleFuncE("/feeds", srvr.postFeed).Methods(http.MethodPost)
	authed.HandleFuncE("/feeds", srvr.deleteFeed).Methods(http.MethodDelete)
	authed.HandleFuncE("/preferences", srvr.putPreferences).Methods(http.MethodPut)

	// Read/saved state
	authed.HandleFuncE("/state", srvr.getState).Methods(http.MethodGet)
	authed.HandleFuncE("/entries/{entryID}/read", srvr.postRead).Methods(http.MethodPost)
	authed.HandleFuncE("/entries/{entryID}/read", srvr.deleteRead).Methods(http.MethodDelete)
	authed.HandleFuncE("/entries/{entryID}/saved", srvr.postSaved).Methods(http.MethodPost)

	var h http.Handler = r
	if config.CorsOrigin != "" {
		h = handlers.CORS(
			handlers.AllowedOrigins([]string{config.CorsOrigin}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"content-type", "authorization"}),
		)(r)
	}
	srvr.Server = server.New(config.Port, h)

	slog.Debug("configured api server", "port", config.Port)

	return srvr, nil
}

// Close flushes every session's pending state write and drops the
// sessions.
func (s *Server) Close() {
	s.sessions.Purge()
}

// Shutdown stops the HTTP server and then flushes the sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.Close()
	return err
}
