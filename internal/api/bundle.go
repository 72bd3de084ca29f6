package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	rerrs "github.com/jdholdren/readly/internal/errors"
)

// getBundle serves the bundle file the last ingestion run wrote.
func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) error {
	f, err := os.Open(s.bundlePath)
	if errors.Is(err, fs.ErrNotExist) {
		return rerrs.E("no bundle has been generated yet", http.StatusNotFound)
	}
	if err != nil {
		return fmt.Errorf("error opening bundle: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("error reading bundle: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "", info.ModTime(), f)

	return nil
}
