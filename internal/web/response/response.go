// Package response writes operation results and errors to HTTP clients.
package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/conduit-lang/restkit/internal/apierror"
)

// Media types served by the API.
const (
	MediaJSONLD  = "application/ld+json"
	MediaJSON    = "application/json"
	MediaProblem = "application/problem+json"
	MediaHTML    = "text/html"
)

var supported = []string{MediaJSONLD, MediaJSON, MediaHTML}

// Negotiate picks the response media type from the Accept header, honoring
// q values. The _format query parameter (jsonld, json, html) takes
// precedence. ok is false when nothing acceptable is served.
func Negotiate(r *http.Request) (mediaType string, ok bool) {
	switch r.URL.Query().Get("_format") {
	case "jsonld":
		return MediaJSONLD, true
	case "json":
		return MediaJSON, true
	case "html":
		return MediaHTML, true
	}

	accept := r.Header.Get("Accept")
	if accept == "" {
		return MediaJSONLD, true
	}

	best, bestQ := "", 0.0
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if raw, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				q = parsed
			}
		}
		if q <= bestQ {
			continue
		}
		if match := match(mt); match != "" {
			best, bestQ = match, q
		}
	}
	return best, best != ""
}

func match(mediaType string) string {
	switch mediaType {
	case "*/*", "application/*":
		return MediaJSONLD
	}
	for _, s := range supported {
		if s == mediaType {
			return s
		}
	}
	return ""
}

// JSON writes body encoded as JSON with the given media type. A nil body
// with status 204 writes no content.
func JSON(w http.ResponseWriter, status int, mediaType string, body any) error {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", mediaType+"; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// Problem writes an error resource as an RFC 7807 problem document.
func Problem(w http.ResponseWriter, e *apierror.Error) {
	data, err := json.Marshal(e)
	if err != nil {
		http.Error(w, http.StatusText(e.Status), e.Status)
		return
	}
	w.Header().Set("Content-Type", MediaProblem+"; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	_, _ = w.Write(data)
}

// AddLink appends a Link header entry
func AddLink(h http.Header, href, rel string) {
	h.Add("Link", "<"+href+">; rel=\""+rel+"\"")
}
