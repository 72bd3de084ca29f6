package api

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	v1 "github.com/jdholdren/readly/api/v1"
	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/server"
	"github.com/jdholdren/readly/internal/session"
)

var entryIDPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

func (s *Server) getState(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	us := s.session(ctx)

	if err := us.state.Load(ctx, token(ctx)); err != nil {
		return err
	}
	us.mu.Lock()
	us.stateLoaded = true
	us.mu.Unlock()

	return writeState(w, us.state)
}

func (s *Server) postRead(w http.ResponseWriter, r *http.Request) error {
	us, entryID, err := s.entryRequest(r)
	if err != nil {
		return err
	}
	us.state.MarkRead(entryID, token(r.Context()))

	return writeState(w, us.state)
}

func (s *Server) deleteRead(w http.ResponseWriter, r *http.Request) error {
	us, entryID, err := s.entryRequest(r)
	if err != nil {
		return err
	}
	us.state.MarkUnread(entryID, token(r.Context()))

	return writeState(w, us.state)
}

func (s *Server) postSaved(w http.ResponseWriter, r *http.Request) error {
	us, entryID, err := s.entryRequest(r)
	if err != nil {
		return err
	}
	saved := us.state.ToggleSaved(entryID, token(r.Context()))

	return server.WriteJSON(w, http.StatusOK, v1.SavedResponse{EntryID: entryID, Saved: saved})
}

// entryRequest validates the entry ID and makes sure the state has been
// loaded, so a mutation never overwrites state it hasn't seen.
func (s *Server) entryRequest(r *http.Request) (*userSession, string, error) {
	entryID := mux.Vars(r)["entryID"]
	if !entryIDPattern.MatchString(entryID) {
		return nil, "", rerrs.E("invalid entry id", http.StatusBadRequest, rerrs.Detail{
			Field: "entryID",
			Error: "must be 12 lowercase hex characters",
		})
	}

	ctx := r.Context()
	us := s.session(ctx)
	if err := us.ensureState(ctx, token(ctx)); err != nil {
		return nil, "", err
	}

	return us, entryID, nil
}

func writeState(w http.ResponseWriter, st *session.State) error {
	snap := st.Snapshot()
	return server.WriteJSON(w, http.StatusOK, v1.StateResponse{
		Read:     snap.Read,
		Saved:    snap.Saved,
		LastSync: snap.LastSync,
		Syncing:  st.Syncing() || st.Pending(),
	})
}
