package drivelocal

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/facebookgo/clock"
)

// NewTestServer starts an emulator over a fresh database in a temp dir and
// stops it when the test ends. Any bearer token is accepted.
func NewTestServer(t testing.TB) (*httptest.Server, Repo) {
	t.Helper()

	dbx, err := Open(filepath.Join(t.TempDir(), "drive.db"))
	if err != nil {
		t.Fatalf("error opening test database: %s", err)
	}
	repo := NewRepo(dbx, clock.New())
	srv := httptest.NewServer(NewServer(repo, "").Handler())
	t.Cleanup(func() {
		srv.Close()
		dbx.Close()
	})

	return srv, repo
}
