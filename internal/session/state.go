// Package session keeps a user's config and read/saved state in memory and
// syncs them to the document store.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/jdholdren/readly/internal/readly"
)

const (
	// DefaultSyncDelay is how long state mutations settle before they are
	// written.
	DefaultSyncDelay = time.Second

	writeTimeout = 15 * time.Second
)

type StateStore interface {
	ReadState(ctx context.Context, token string) (readly.UserState, error)
	WriteState(ctx context.Context, token string, st readly.UserState) error
}

type (
	// State is one user's read and saved entries. Mutations apply at once
	// in memory; with a token they also schedule a write of the whole state,
	// restarted by every further mutation. Without a token they stay local.
	State struct {
		store    StateStore
		clock    clock.Clock
		delay    time.Duration
		debounce *Debouncer

		mu       sync.Mutex
		read     []string
		saved    []string
		lastSync time.Time
		token    string // token of the pending write
		inflight int    // loads and writes in progress
		gen      uint64 // bumped by every mutation that is to be written
		synced   uint64 // gen last known to be in the store
		err      error
	}

	StateOption func(*State)
)

func WithStateClock(c clock.Clock) StateOption {
	return func(s *State) {
		s.clock = c
	}
}

// WithSyncDelay overrides [DefaultSyncDelay].
func WithSyncDelay(d time.Duration) StateOption {
	return func(s *State) {
		s.delay = d
	}
}

func NewState(store StateStore, opts ...StateOption) *State {
	s := &State{
		store: store,
		clock: clock.New(),
		delay: DefaultSyncDelay,
		read:  []string{},
		saved: []string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debounce = NewDebouncer(s.clock, s.delay)
	s.lastSync = s.clock.Now().UTC()

	return s
}

// Load replaces the in-memory state with the stored one. While mutations
// are not yet in the store, pending or in flight, the load is skipped and
// the in-memory state kept. On failure the error is logged and recorded,
// and the in-memory state is left alone.
func (s *State) Load(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.gen != s.synced {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	s.inflight++
	s.mu.Unlock()

	st, err := s.store.ReadState(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		slog.ErrorContext(ctx, "failed to load state", "error", err)
		s.err = err
		return err
	}
	if s.gen != gen {
		// Mutated while reading.
		return nil
	}

	s.read = dedupe(st.Read)
	s.saved = dedupe(st.Saved)
	s.lastSync = st.LastSync
	s.err = nil

	return nil
}

func (s *State) IsRead(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Contains(s.read, entryID)
}

func (s *State) IsSaved(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Contains(s.saved, entryID)
}

// MarkRead adds entryID to the read set. Marking an entry that is already
// read changes nothing and schedules nothing.
func (s *State) MarkRead(entryID, token string) {
	s.mu.Lock()
	if slices.Contains(s.read, entryID) {
		s.mu.Unlock()
		return
	}
	s.read = append(s.read, entryID)
	s.changed(token)
	s.mu.Unlock()

	s.schedule(token)
}

func (s *State) MarkUnread(entryID, token string) {
	s.mu.Lock()
	s.read = slices.DeleteFunc(s.read, func(id string) bool { return id == entryID })
	s.changed(token)
	s.mu.Unlock()

	s.schedule(token)
}

// ToggleSaved flips whether entryID is saved and returns the new value.
func (s *State) ToggleSaved(entryID, token string) bool {
	s.mu.Lock()
	saved := !slices.Contains(s.saved, entryID)
	if saved {
		s.saved = append(s.saved, entryID)
	} else {
		s.saved = slices.DeleteFunc(s.saved, func(id string) bool { return id == entryID })
	}
	s.changed(token)
	s.mu.Unlock()

	s.schedule(token)
	return saved
}

func (s *State) Snapshot() readly.UserState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return readly.UserState{
		Read:     slices.Clone(s.read),
		Saved:    slices.Clone(s.saved),
		LastSync: s.lastSync,
	}
}

// Syncing reports whether a load or write is in flight.
func (s *State) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inflight > 0
}

// Err is the error of the last load or write, cleared by the next one that
// succeeds.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Pending reports whether a write is waiting out the delay.
func (s *State) Pending() bool {
	return s.debounce.Pending()
}

// Flush performs a pending write now instead of waiting for the delay.
func (s *State) Flush(ctx context.Context) error {
	if !s.debounce.Stop() {
		return nil
	}

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	return s.write(ctx, token)
}

// Close drops any pending write.
func (s *State) Close() {
	s.debounce.Stop()
}

// changed records a mutation that is to be written. s.mu must be held.
func (s *State) changed(token string) {
	if token == "" {
		return
	}
	s.gen++
	s.token = token
}

func (s *State) schedule(token string) {
	if token == "" {
		return
	}

	s.debounce.Schedule(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		s.write(ctx, token)
	})
}

// write stores the current state, stamped with the time of the write.
func (s *State) write(ctx context.Context, token string) error {
	s.mu.Lock()
	s.inflight++
	gen := s.gen
	st := readly.UserState{
		Read:     slices.Clone(s.read),
		Saved:    slices.Clone(s.saved),
		LastSync: s.clock.Now().UTC(),
	}
	s.mu.Unlock()

	err := s.store.WriteState(ctx, token, st)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		slog.ErrorContext(ctx, "failed to sync state", "error", err)
		s.err = err
		return err
	}
	if gen > s.synced {
		s.synced = gen
	}
	s.lastSync = st.LastSync
	s.err = nil

	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	return out
}
