// Package drive stores JSON documents in a folder of the user's Google
// Drive, speaking the Drive v3 REST API directly.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/facebookgo/clock"

	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/readly"
)

const (
	DefaultAPIURL    = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	DefaultFolder    = "readly"

	folderMimeType = "application/vnd.google-apps.folder"
	jsonMimeType   = "application/json"

	// How much of an error response body makes it into the error.
	maxErrorBody = 512
)

type (
	// Store reads and writes named documents inside one app folder. Every
	// call takes the caller's access token; the store holds no session.
	//
	// Writes are unconditional: two writers racing on the same document
	// both succeed and the last one wins.
	Store struct {
		client    *http.Client
		apiURL    string
		uploadURL string
		folder    string
		clock     clock.Clock
	}

	Option func(*Store)

	driveFile struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	fileList struct {
		Files []driveFile `json:"files"`
	}
)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.client = c
	}
}

// WithBaseURLs points the store at another server speaking the same API,
// such as a drivelocal instance.
func WithBaseURLs(api, upload string) Option {
	return func(s *Store) {
		s.apiURL = strings.TrimSuffix(api, "/")
		s.uploadURL = strings.TrimSuffix(upload, "/")
	}
}

func WithFolder(name string) Option {
	return func(s *Store) {
		s.folder = name
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		client:    http.DefaultClient,
		apiURL:    DefaultAPIURL,
		uploadURL: DefaultUploadURL,
		folder:    DefaultFolder,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EnsureFolder returns the ID of the app folder, creating it if no
// untrashed folder of that name exists. With several matches the first
// one listed wins.
func (s *Store) EnsureFolder(ctx context.Context, token string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(s.folder), folderMimeType)
	files, err := s.search(ctx, token, q)
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		return files[0].ID, nil
	}

	meta, err := json.Marshal(map[string]string{
		"name":     s.folder,
		"mimeType": folderMimeType,
	})
	if err != nil {
		return "", fmt.Errorf("error encoding folder metadata: %w", err)
	}

	var created driveFile
	if err := s.do(ctx, token, http.MethodPost, s.apiURL+"/files", jsonMimeType, bytes.NewReader(meta), &created); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "created app folder", "folder_id", created.ID, "name", s.folder)

	return created.ID, nil
}

// FindDocument looks up name inside the folder. A missing document is not
// an error: found is false.
func (s *Store) FindDocument(ctx context.Context, token, folderID, name string) (id string, found bool, err error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQuery(name), escapeQuery(folderID))
	files, err := s.search(ctx, token, q)
	if err != nil {
		return "", false, err
	}
	if len(files) == 0 {
		return "", false, nil
	}

	return files[0].ID, true, nil
}

// ReadDocument returns the raw content of a document.
func (s *Store) ReadDocument(ctx context.Context, token, id string) ([]byte, error) {
	u := fmt.Sprintf("%s/files/%s?alt=media", s.apiURL, url.PathEscape(id))
	var buf bytes.Buffer
	if err := s.do(ctx, token, http.MethodGet, u, "", nil, &buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteDocument stores content under name in the folder. The name is
// resolved again on every call: an existing document is updated in place,
// otherwise one is created with metadata and content in a single request.
func (s *Store) WriteDocument(ctx context.Context, token, folderID, name string, content []byte) (string, error) {
	id, found, err := s.FindDocument(ctx, token, folderID, name)
	if err != nil {
		return "", err
	}

	if found {
		u := fmt.Sprintf("%s/files/%s?uploadType=media", s.uploadURL, url.PathEscape(id))
		if err := s.do(ctx, token, http.MethodPatch, u, jsonMimeType, bytes.NewReader(content), nil); err != nil {
			return "", err
		}
		return id, nil
	}

	body, contentType, err := multipartUpload(name, folderID, content)
	if err != nil {
		return "", err
	}

	var created driveFile
	if err := s.do(ctx, token, http.MethodPost, s.uploadURL+"/files?uploadType=multipart", contentType, body, &created); err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "created document", "document", name, "file_id", created.ID)

	return created.ID, nil
}

func (s *Store) search(ctx context.Context, token, q string) ([]driveFile, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "files(id,name)")

	var list fileList
	if err := s.do(ctx, token, http.MethodGet, s.apiURL+"/files?"+params.Encode(), "", nil, &list); err != nil {
		return nil, err
	}

	return list.Files, nil
}

// do sends one authorized request. A *bytes.Buffer out receives the raw
// body, anything else non-nil is decoded as JSON.
func (s *Store) do(ctx context.Context, token, method, u, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return rerrs.E(fmt.Errorf("%w: %s %s: %w", readly.ErrStoreUnavailable, method, req.URL.Path, err), http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return rerrs.E(
			fmt.Errorf("%w: %s %s returned %d: %s", readly.ErrStoreUnavailable, method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg)),
			resp.StatusCode,
		)
	}

	switch out := out.(type) {
	case nil:
		io.Copy(io.Discard, resp.Body)
	case *bytes.Buffer:
		if _, err := out.ReadFrom(resp.Body); err != nil {
			return rerrs.E(fmt.Errorf("%w: error reading body: %w", readly.ErrStoreUnavailable, err), http.StatusBadGateway)
		}
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return rerrs.E(fmt.Errorf("%w: error decoding response: %w", readly.ErrStoreUnavailable, err), http.StatusBadGateway)
		}
	}

	return nil
}

// multipartUpload builds a multipart/related body: the file metadata, then
// the content.
func multipartUpload(name, folderID string, content []byte) (io.Reader, string, error) {
	meta, err := json.Marshal(struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}{Name: name, Parents: []string{folderID}})
	if err != nil {
		return nil, "", fmt.Errorf("error encoding file metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, part := range [][]byte{meta, content} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {jsonMimeType}})
		if err != nil {
			return nil, "", fmt.Errorf("error creating upload part: %w", err)
		}
		if _, err := w.Write(part); err != nil {
			return nil, "", fmt.Errorf("error writing upload part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing upload body: %w", err)
	}

	return &buf, "multipart/related; boundary=" + mw.Boundary(), nil
}

// escapeQuery makes s safe inside a single-quoted query literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
