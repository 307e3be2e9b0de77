package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/apierror"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		accept, format string
		want           string
		ok             bool
	}{
		{"", "", MediaJSONLD, true},
		{"application/json", "", MediaJSON, true},
		{"text/html,application/xhtml+xml;q=0.9", "", MediaHTML, true},
		{"application/json;q=0.5, application/ld+json", "", MediaJSONLD, true},
		{"*/*", "", MediaJSONLD, true},
		{"text/csv", "", "", false},
		{"text/html", "json", MediaJSON, true},
	}
	for _, tt := range tests {
		t.Run(tt.accept+tt.format, func(t *testing.T) {
			target := "/books"
			if tt.format != "" {
				target += "?_format=" + tt.format
			}
			r := httptest.NewRequest("GET", target, nil)
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}
			got, ok := Negotiate(r)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, JSON(rec, http.StatusCreated, MediaJSONLD, map[string]any{"title": "Dune"}))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/ld+json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"title":"Dune"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, JSON(rec, http.StatusNoContent, MediaJSONLD, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, apierror.New(errors.New("gone"), http.StatusNotFound, false))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json; charset=utf-8", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/errors/404", body["type"])
	assert.Equal(t, "gone", body["detail"])
}

func TestAddLink(t *testing.T) {
	h := http.Header{}
	AddLink(h, "/docs.json", "describedby")
	AddLink(h, "https://hub.example.com/.well-known/mercure", "mercure")
	assert.Equal(t, []string{`</docs.json>; rel="describedby"`, `<https://hub.example.com/.well-known/mercure>; rel="mercure"`}, h.Values("Link"))
}
