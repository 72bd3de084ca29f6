package drive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/readly/internal/drivelocal"
	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/readly"
)

const testToken = "test-token"

func newTestStore(t *testing.T, opts ...Option) (*Store, drivelocal.Repo) {
	t.Helper()

	srv, repo := drivelocal.NewTestServer(t)
	base := []Option{WithBaseURLs(srv.URL+"/drive/v3", srv.URL+"/upload/drive/v3")}
	return New(append(base, opts...)...), repo
}

func folderCount(t *testing.T, repo drivelocal.Repo, name string) int {
	t.Helper()

	mime, trashed := drivelocal.FolderMimeType, false
	files, err := repo.Search(context.Background(), drivelocal.Query{Name: &name, MimeType: &mime, Trashed: &trashed})
	require.NoError(t, err)
	return len(files)
}

func TestEnsureFolder(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)

	id, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, id, again, "existing folder is reused")
	assert.Equal(t, 1, folderCount(t, repo, DefaultFolder))
}

func TestEnsureFolder_IgnoresTrashed(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)

	old, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	require.NoError(t, repo.Trash(ctx, old))

	fresh, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)
}

func TestFindDocument_Missing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	folderID, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)

	_, found, err := s.FindDocument(ctx, testToken, folderID, "nope.json")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteDocument_UpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)

	folderID, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)

	first, err := s.WriteDocument(ctx, testToken, folderID, "doc.json", []byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := s.WriteDocument(ctx, testToken, folderID, "doc.json", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	name := "doc.json"
	files, err := repo.Search(ctx, drivelocal.Query{Name: &name, Parent: &folderID})
	require.NoError(t, err)
	require.Len(t, files, 1, "one document after two writes")
	assert.Equal(t, int64(2), files[0].Version, "second write was an update, not a create")

	byts, err := s.ReadDocument(ctx, testToken, first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(byts))
}

func TestWriteDocument_EscapesNames(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithFolder(`it's \ mine`))

	folderID, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	again, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, folderID, again)

	name := `o'neil\notes.json`
	id, err := s.WriteDocument(ctx, testToken, folderID, name, []byte(`{}`))
	require.NoError(t, err)

	got, found, err := s.FindDocument(ctx, testToken, folderID, name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)
}

func TestConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	added := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cfg := readly.UserConfig{
		Feeds: []readly.FeedSubscription{
			{URL: "https://a.example/rss", Title: "A", Folder: "", Added: added},
			{URL: "https://b.example/atom", Title: "B", Folder: "tech", Added: added.Add(time.Hour)},
		},
		Folders: []string{"tech"},
		Preferences: readly.UserPreferences{
			RefreshInterval: 15,
			Theme:           readly.ThemeDark,
			DefaultView:     readly.ViewAll,
		},
	}
	require.NoError(t, s.WriteConfig(ctx, testToken, cfg))

	got, err := s.ReadConfig(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestReadConfig_DefaultPersisted(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)

	cfg, err := s.ReadConfig(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, readly.DefaultConfig(), cfg)

	name := ConfigDocument
	files, err := repo.Search(ctx, drivelocal.Query{Name: &name})
	require.NoError(t, err)
	require.Len(t, files, 1, "default was written back")

	stored, err := repo.File(ctx, files[0].ID)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"feeds":[],"folders":[],"preferences":{"refreshInterval":30,"theme":"system","defaultView":"unread"}}`,
		string(stored.Content),
	)
}

func TestReadState_DefaultStampedWithClock(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	now := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	clk.Add(now.Sub(clk.Now()))

	s, _ := newTestStore(t, WithClock(clk))

	st, err := s.ReadState(ctx, testToken)
	require.NoError(t, err)
	assert.Empty(t, st.Read)
	assert.NotNil(t, st.Read)
	assert.Empty(t, st.Saved)
	assert.True(t, now.Equal(st.LastSync))

	// Second read comes from the stored document
	st.Read = []string{"abcdef012345"}
	require.NoError(t, s.WriteState(ctx, testToken, st))
	again, err := s.ReadState(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdef012345"}, again.Read)
}

func TestReadJSON_Corrupt(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	folderID, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	_, err = s.WriteDocument(ctx, testToken, folderID, ConfigDocument, []byte(`{"feeds": [`))
	require.NoError(t, err)

	_, err = s.ReadConfig(ctx, testToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, readly.ErrCorruptDocument)
}

func TestReadJSON_MissingListsComeBackEmpty(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	folderID, err := s.EnsureFolder(ctx, testToken)
	require.NoError(t, err)
	_, err = s.WriteDocument(ctx, testToken, folderID, StateDocument, []byte(`{"lastSync":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)

	st, err := s.ReadState(ctx, testToken)
	require.NoError(t, err)
	assert.NotNil(t, st.Read)
	assert.NotNil(t, st.Saved)
}

func TestStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	}))
	defer srv.Close()

	s := New(WithBaseURLs(srv.URL, srv.URL))
	_, err := s.ReadConfig(context.Background(), "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, readly.ErrStoreUnavailable)
	assert.Equal(t, http.StatusUnauthorized, rerrs.Status(err, 0))
	assert.Contains(t, err.Error(), "Invalid Credentials")
}

func TestStoreUnavailable_Unreachable(t *testing.T) {
	s := New(WithBaseURLs("http://127.0.0.1:1", "http://127.0.0.1:1"))
	_, err := s.EnsureFolder(context.Background(), testToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, readly.ErrStoreUnavailable)
}

func TestWithHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	s := New(WithBaseURLs(srv.URL, srv.URL), WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := s.EnsureFolder(context.Background(), testToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, readly.ErrStoreUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, rerrs.Status(err, 0))
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `plain`, escapeQuery("plain"))
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
	assert.Equal(t, `\\\'`, escapeQuery(`\'`))
}
