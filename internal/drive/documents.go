package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/readly"
)

const (
	ConfigDocument = "config.json"
	StateDocument  = "state.json"
)

// ReadJSON decodes the document called name. A missing document is
// replaced by def, which is written back before it is returned. Content
// that doesn't decode into T is [readly.ErrCorruptDocument].
func ReadJSON[T any](ctx context.Context, s *Store, token, name string, def T) (T, error) {
	var zero T

	folderID, err := s.EnsureFolder(ctx, token)
	if err != nil {
		return zero, err
	}
	id, found, err := s.FindDocument(ctx, token, folderID, name)
	if err != nil {
		return zero, err
	}

	if !found {
		slog.InfoContext(ctx, "document missing, writing default", "document", name)
		if err := writeJSON(ctx, s, token, folderID, name, def); err != nil {
			return zero, err
		}
		return def, nil
	}

	byts, err := s.ReadDocument(ctx, token, id)
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(byts, &v); err != nil {
		return zero, rerrs.E(fmt.Errorf("%w: %s: %w", readly.ErrCorruptDocument, name, err), http.StatusUnprocessableEntity)
	}

	return v, nil
}

// WriteJSON encodes v and stores it as name, replacing whatever was there.
func WriteJSON[T any](ctx context.Context, s *Store, token, name string, v T) error {
	folderID, err := s.EnsureFolder(ctx, token)
	if err != nil {
		return err
	}

	return writeJSON(ctx, s, token, folderID, name, v)
}

func writeJSON[T any](ctx context.Context, s *Store, token, folderID, name string, v T) error {
	byts, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", name, err)
	}
	if _, err := s.WriteDocument(ctx, token, folderID, name, byts); err != nil {
		return err
	}

	return nil
}

func (s *Store) ReadConfig(ctx context.Context, token string) (readly.UserConfig, error) {
	cfg, err := ReadJSON(ctx, s, token, ConfigDocument, readly.DefaultConfig())
	if err != nil {
		return readly.UserConfig{}, err
	}

	return normalizeConfig(cfg), nil
}

func (s *Store) WriteConfig(ctx context.Context, token string, cfg readly.UserConfig) error {
	return WriteJSON(ctx, s, token, ConfigDocument, normalizeConfig(cfg))
}

func (s *Store) ReadState(ctx context.Context, token string) (readly.UserState, error) {
	st, err := ReadJSON(ctx, s, token, StateDocument, readly.DefaultState(s.clock.Now()))
	if err != nil {
		return readly.UserState{}, err
	}

	return normalizeState(st), nil
}

func (s *Store) WriteState(ctx context.Context, token string, st readly.UserState) error {
	return WriteJSON(ctx, s, token, StateDocument, normalizeState(st))
}

// Documents written by hand can leave out lists; they come back empty, not
// null.
func normalizeConfig(cfg readly.UserConfig) readly.UserConfig {
	if cfg.Feeds == nil {
		cfg.Feeds = []readly.FeedSubscription{}
	}
	if cfg.Folders == nil {
		cfg.Folders = []string{}
	}
	return cfg
}

func normalizeState(st readly.UserState) readly.UserState {
	if st.Read == nil {
		st.Read = []string{}
	}
	if st.Saved == nil {
		st.Saved = []string{}
	}
	return st
}
