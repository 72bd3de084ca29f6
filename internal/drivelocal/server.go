package drivelocal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	rerrs "github.com/jdholdren/readly/internal/errors"
	"github.com/jdholdren/readly/internal/server"
)

const maxUploadSize = 32 << 20

type (
	// Server answers the files.list/create/get/update calls of the Drive v3
	// API against a [Repo].
	Server struct {
		repo  Repo
		token string
	}

	// fileResource is the JSON shape of a file's metadata.
	fileResource struct {
		Kind     string   `json:"kind"`
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents,omitempty"`
		Trashed  bool     `json:"trashed"`
		Version  int64    `json:"version,string"`
	}

	fileList struct {
		Kind  string         `json:"kind"`
		Files []fileResource `json:"files"`
	}

	// createRequest is the metadata sent on create, alone or as the first
	// part of a multipart upload.
	createRequest struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}
)

// NewServer serves repo. A non-empty token is the only bearer token
// accepted; otherwise any bearer token is.
func NewServer(repo Repo, token string) *Server {
	return &Server{repo: repo, token: token}
}

// Handler returns the routes of the emulated API.
func (s *Server) Handler() http.Handler {
	r := server.NewErrRouter()
	r.Use(server.AccessLogMiddleware)
	r.Use(s.requireToken)

	r.HandleFuncE("/drive/v3/files", s.listFiles).Methods(http.MethodGet)
	r.HandleFuncE("/drive/v3/files", s.createFile).Methods(http.MethodPost)
	r.HandleFuncE("/drive/v3/files/{fileID}", s.getFile).Methods(http.MethodGet)
	r.HandleFuncE("/upload/drive/v3/files", s.uploadFile).Methods(http.MethodPost)
	r.HandleFuncE("/upload/drive/v3/files/{fileID}", s.updateFile).Methods(http.MethodPatch)

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := server.BearerToken(r)
		if tok == "" || (s.token != "" && tok != s.token) {
			server.WriteJSON(w, http.StatusUnauthorized, rerrs.E(http.StatusUnauthorized, "invalid credentials"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) error {
	q, err := ParseQuery(r.URL.Query().Get("q"))
	if err != nil {
		return rerrs.E(err, http.StatusBadRequest)
	}

	files, err := s.repo.Search(r.Context(), q)
	if err != nil {
		return err
	}

	resp := fileList{Kind: "drive#fileList", Files: make([]fileResource, 0, len(files))}
	for _, f := range files {
		resp.Files = append(resp.Files, resource(f))
	}

	return server.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) createFile(w http.ResponseWriter, r *http.Request) error {
	var req createRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		return rerrs.E(fmt.Errorf("error decoding metadata: %w", err), http.StatusBadRequest)
	}

	f, err := s.create(r, req, nil)
	if err != nil {
		return err
	}

	return server.WriteJSON(w, http.StatusOK, resource(f))
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) error {
	f, err := s.repo.File(r.Context(), mux.Vars(r)["fileID"])
	if errors.Is(err, ErrNotFound) {
		return rerrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	if r.URL.Query().Get("alt") != "media" {
		return server.WriteJSON(w, http.StatusOK, resource(f))
	}
	if f.MimeType == FolderMimeType {
		return rerrs.E("folders have no content", http.StatusBadRequest)
	}

	w.Header().Set("Content-Type", f.MimeType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Content); err != nil {
		slog.ErrorContext(r.Context(), "error writing file content", "error", err)
	}

	return nil
}

// uploadFile creates a file with content in one multipart/related request:
// a JSON metadata part followed by the content part.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) error {
	if ut := r.URL.Query().Get("uploadType"); ut != "multipart" {
		return rerrs.E(fmt.Sprintf("unsupported uploadType %q", ut), http.StatusBadRequest)
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" || params["boundary"] == "" {
		return rerrs.E("expected a multipart/related body", http.StatusBadRequest)
	}
	mr := multipart.NewReader(io.LimitReader(r.Body, maxUploadSize), params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		return rerrs.E(fmt.Errorf("error reading metadata part: %w", err), http.StatusBadRequest)
	}
	var req createRequest
	if err := json.NewDecoder(metaPart).Decode(&req); err != nil {
		return rerrs.E(fmt.Errorf("error decoding metadata: %w", err), http.StatusBadRequest)
	}

	contentPart, err := mr.NextPart()
	if err != nil {
		return rerrs.E(fmt.Errorf("error reading content part: %w", err), http.StatusBadRequest)
	}
	content, err := io.ReadAll(contentPart)
	if err != nil {
		return rerrs.E(fmt.Errorf("error reading content: %w", err), http.StatusBadRequest)
	}
	if req.MimeType == "" {
		req.MimeType = contentPart.Header.Get("Content-Type")
	}

	f, err := s.create(r, req, content)
	if err != nil {
		return err
	}

	return server.WriteJSON(w, http.StatusOK, resource(f))
}

// updateFile replaces the content of an existing file in place.
func (s *Server) updateFile(w http.ResponseWriter, r *http.Request) error {
	if ut := r.URL.Query().Get("uploadType"); ut != "media" {
		return rerrs.E(fmt.Sprintf("unsupported uploadType %q", ut), http.StatusBadRequest)
	}

	content, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		return rerrs.E(fmt.Errorf("error reading content: %w", err), http.StatusBadRequest)
	}

	f, err := s.repo.UpdateContent(r.Context(), mux.Vars(r)["fileID"], content)
	if errors.Is(err, ErrNotFound) {
		return rerrs.E(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	return server.WriteJSON(w, http.StatusOK, resource(f))
}

func (s *Server) create(r *http.Request, req createRequest, content []byte) (File, error) {
	if req.Name == "" {
		return File{}, rerrs.E("name is required", http.StatusBadRequest)
	}
	if len(req.Parents) > 1 {
		return File{}, rerrs.E("at most one parent is supported", http.StatusBadRequest)
	}

	f := File{Name: req.Name, MimeType: req.MimeType, Content: content}
	if len(req.Parents) == 1 {
		parent, err := s.repo.File(r.Context(), req.Parents[0])
		if errors.Is(err, ErrNotFound) {
			return File{}, rerrs.E(fmt.Errorf("parent %s: %w", req.Parents[0], err), http.StatusNotFound)
		}
		if err != nil {
			return File{}, err
		}
		if parent.MimeType != FolderMimeType {
			return File{}, rerrs.E("parent is not a folder", http.StatusBadRequest)
		}
		f.ParentID = parent.ID
	}

	created, err := s.repo.Create(r.Context(), f)
	if err != nil {
		return File{}, err
	}
	slog.DebugContext(r.Context(), "file created", "file_id", created.ID, "name", created.Name)

	return created, nil
}

func resource(f File) fileResource {
	res := fileResource{
		Kind:     "drive#file",
		ID:       f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
		Trashed:  f.Trashed,
		Version:  f.Version,
	}
	if f.ParentID != "" {
		res.Parents = []string{f.ParentID}
	}

	return res
}
