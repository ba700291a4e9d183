package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/hupe1980/sessionmesh/internal/codec"
)

// Content types understood by the server and client.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Codec encodes and decodes request and response bodies.
type Codec interface {
	// ContentType is the media type written to Content-Type and Accept.
	ContentType() string
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// CBOR uses Core Deterministic Encoding.
var CBOR Codec = cborCodec{}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return ContentTypeJSON }

func (jsonCodec) Encode(w io.Writer, v any) error { return json.NewEncoder(w).Encode(v) }

func (jsonCodec) Decode(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) }

type cborCodec struct{}

func (cborCodec) ContentType() string { return ContentTypeCBOR }

func (cborCodec) Encode(w io.Writer, v any) error { return codec.NewEncoder(w).Encode(v) }

func (cborCodec) Decode(r io.Reader, v any) error { return codec.NewDecoder(r).Decode(v) }

// ParseCodec returns the codec named "json" or "cbor". An empty name
// selects JSON.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// codecForContentType returns the codec of a Content-Type header. An empty
// header selects JSON.
func codecForContentType(header string) (Codec, bool) {
	if header == "" {
		return JSON, true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return nil, false
	}
	switch mediaType {
	case ContentTypeJSON:
		return JSON, true
	case ContentTypeCBOR:
		return CBOR, true
	default:
		return nil, false
	}
}

// codecForAccept picks the response codec. CBOR is used only when the
// client asks for it.
func codecForAccept(header string) Codec {
	for _, part := range strings.Split(header, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == ContentTypeCBOR {
			return CBOR
		}
	}
	return JSON
}
