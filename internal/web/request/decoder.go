// Package request decodes the payload of write requests.
package request

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/conduit-lang/restkit/internal/state"
)

// DefaultMaxBodySize bounds request payloads.
const DefaultMaxBodySize = 10 << 20

// Decoder decodes JSON and form payloads into maps.
type Decoder struct {
	maxBodySize int64
}

// NewDecoder creates a decoder with the default body size limit
func NewDecoder() *Decoder {
	return &Decoder{maxBodySize: DefaultMaxBodySize}
}

// NewDecoderWithMaxSize creates a decoder with a custom body size limit
func NewDecoderWithMaxSize(maxBytes int64) *Decoder {
	return &Decoder{maxBodySize: maxBytes}
}

// Decode reads the request body according to its Content-Type. A missing
// Content-Type is read as JSON. Unsupported or malformed payloads fail with
// an unexpected value error.
func (d *Decoder) Decode(r *http.Request) (map[string]any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return map[string]any{}, nil
	}
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	switch {
	case mediaType == "", mediaType == "application/json", mediaType == "application/ld+json",
		mediaType == "application/merge-patch+json", strings.HasSuffix(mediaType, "+json"):
		return d.decodeJSON(r)
	case mediaType == "application/x-www-form-urlencoded":
		return d.decodeForm(r)
	}
	return nil, &UnsupportedMediaTypeError{MediaType: mediaType}
}

func (d *Decoder) decodeJSON(r *http.Request) (map[string]any, error) {
	body := http.MaxBytesReader(nil, r.Body, d.maxBodySize)
	defer body.Close()

	var payload map[string]any
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, state.UnexpectedValue("Request body exceeds %d bytes.", d.maxBodySize)
		}
		return nil, state.UnexpectedValue("Syntax error: %s", err.Error())
	}
	if decoder.More() {
		return nil, state.UnexpectedValue("Request body contains multiple JSON documents.")
	}
	if payload == nil {
		return nil, state.UnexpectedValue("Expected the request body to be a JSON object.")
	}
	return payload, nil
}

func (d *Decoder) decodeForm(r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, d.maxBodySize)
	defer r.Body.Close()

	if err := r.ParseForm(); err != nil {
		return nil, state.UnexpectedValue("Invalid form data: %s", err.Error())
	}
	payload := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) == 1 {
			payload[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		payload[key] = list
	}
	return payload, nil
}

// UnsupportedMediaTypeError is returned for payloads in another format.
type UnsupportedMediaTypeError struct {
	MediaType string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return "The content-type \"" + e.MediaType + "\" is not supported."
}

// StatusCode implements the HTTP status lookup of the error layer
func (e *UnsupportedMediaTypeError) StatusCode() int { return http.StatusUnsupportedMediaType }
