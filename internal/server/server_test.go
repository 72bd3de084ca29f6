package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrs "github.com/jdholdren/readly/internal/errors"
)

type nameRequest struct {
	Name string `json:"name"`
}

func (r nameRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestDecodeValid(t *testing.T) {
	req, err := DecodeValid[nameRequest](strings.NewReader(`{"name":"readly"}`))
	require.NoError(t, err)
	assert.Equal(t, "readly", req.Name)

	_, err = DecodeValid[nameRequest](strings.NewReader(`{`))
	assert.Equal(t, http.StatusBadRequest, rerrs.Status(err, 0))

	_, err = DecodeValid[nameRequest](strings.NewReader(`{"name":""}`))
	assert.Equal(t, http.StatusBadRequest, rerrs.Status(err, 0))
}

func TestHandlerFuncE(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "structured",
			err:        rerrs.E(http.StatusNotFound, "nope"),
			wantStatus: http.StatusNotFound,
			wantMsg:    "nope",
		},
		{
			name:       "wrapped structured",
			err:        errors.Join(errors.New("context"), rerrs.E(http.StatusConflict, "taken")),
			wantStatus: http.StatusConflict,
			wantMsg:    "taken",
		},
		{
			name:       "unstructured is hidden",
			err:        errors.New("db password is hunter2"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error { return tt.err })
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestAccessLogMiddleware_PassesThrough(t *testing.T) {
	h := AccessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"":              "",
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"Bearer ":       "",
		"Basic dXNlcjo": "",
		"Bearerabc":     "",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), header)
	}
}
