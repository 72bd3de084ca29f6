package api

import (
	"net/http"

	v1 "github.com/jdholdren/readly/api/v1"
	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/readly"
	"github.com/jdholdren/readly/internal/server"
)

// getConfig always reloads from the store so edits from other devices
// show up.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	us := s.session(ctx)
	if err := us.config.Load(ctx, token(ctx)); err != nil {
		return err
	}

	us.mu.Lock()
	us.configLoaded = true
	us.mu.Unlock()

	return server.WriteJSON(w, http.StatusOK, us.config.Snapshot())
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) error {
	cfg, err := server.DecodeValid[readly.UserConfig](r.Body)
	if err != nil {
		return err
	}

	ctx := r.Context()
	us := s.session(ctx)
	if err := us.config.Replace(ctx, cfg, token(ctx)); err != nil {
		return err
	}

	us.mu.Lock()
	us.configLoaded = true
	us.mu.Unlock()

	return server.WriteJSON(w, http.StatusOK, us.config.Snapshot())
}

func (s *Server) postFeed(w http.ResponseWriter, r *http.Request) error {
	req, err := server.DecodeValid[v1.AddFeedRequest](r.Body)
	if err != nil {
		return err
	}

	ctx := r.Context()
	us := s.session(ctx)
	if err := us.ensureConfig(ctx, token(ctx)); err != nil {
		return err
	}

	added, err := us.config.AddFeed(ctx, req.URL, req.Title, token(ctx))
	if err != nil {
		return err
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return server.WriteJSON(w, status, v1.AddFeedResponse{
		Added:  added,
		Config: us.config.Snapshot(),
	})
}

func (s *Server) deleteFeed(w http.ResponseWriter, r *http.Request) error {
	u := r.URL.Query().Get("url")
	if u == "" {
		return rerrs.E("url is required", http.StatusBadRequest, rerrs.Detail{Field: "url", Error: "url is required"})
	}

	ctx := r.Context()
	us := s.session(ctx)
	if err := us.ensureConfig(ctx, token(ctx)); err != nil {
		return err
	}
	if err := us.config.RemoveFeed(ctx, u, token(ctx)); err != nil {
		return err
	}

	return server.WriteJSON(w, http.StatusOK, us.config.Snapshot())
}

func (s *Server) putPreferences(w http.ResponseWriter, r *http.Request) error {
	req, err := server.DecodeValid[v1.PreferencesRequest](r.Body)
	if err != nil {
		return err
	}

	ctx := r.Context()
	us := s.session(ctx)
	if err := us.ensureConfig(ctx, token(ctx)); err != nil {
		return err
	}
	if err := us.config.SetPreferences(ctx, req.Preferences(), token(ctx)); err != nil {
		return err
	}

	return server.WriteJSON(w, http.StatusOK, us.config.Snapshot())
}
