// Package decoder classifies opaque report payloads as delivered by the
// upstream provider. Decoding is pure and deterministic: the same cached
// bytes decode identically on every read.
package decoder

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
)

// Kind is the closed set of payload classifications.
type Kind string

const (
	KindHTML    Kind = "html"
	KindPDF     Kind = "pdf"
	KindUnknown Kind = "unknown"
)

// Decoded is the tagged result of classifying a payload. Exactly one of
// HTML (for KindHTML) or Bytes (for KindPDF/KindUnknown) carries content.
type Decoded struct {
	Kind  Kind
	HTML  string
	Bytes []byte
	// Err is set when a gzip payload failed to decompress. The payload is
	// still returned as KindUnknown rather than dropped.
	Err error
}

// ContentType returns the HTTP content type for the decoded kind.
func (d Decoded) ContentType() string {
	switch d.Kind {
	case KindHTML:
		return "text/html; charset=utf-8"
	case KindPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	pdfMagic  = []byte("%PDF-")
)

const sniffWindow = 2048

// Decode classifies a raw payload. It never panics and never returns an
// error for unclassifiable input; the worst case is KindUnknown with the
// original bytes intact.
func Decode(payload []byte) Decoded {
	if bytes.HasPrefix(payload, gzipMagic) {
		return decodeGzip(payload)
	}

	if bytes.HasPrefix(payload, pdfMagic) {
		return Decoded{Kind: KindPDF, Bytes: payload}
	}

	if looksLikeHTML(payload) {
		return Decoded{Kind: KindHTML, HTML: string(payload)}
	}

	return Decoded{Kind: KindUnknown, Bytes: payload}
}

func decodeGzip(payload []byte) Decoded {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return Decoded{Kind: KindUnknown, Bytes: payload, Err: err}
	}
	defer zr.Close()

	text, err := io.ReadAll(zr)
	if err != nil {
		return Decoded{Kind: KindUnknown, Bytes: payload, Err: err}
	}

	return Decoded{Kind: KindHTML, HTML: string(text)}
}

// looksLikeHTML sniffs for an HTML doctype or tag within the first 2KB.
func looksLikeHTML(payload []byte) bool {
	window := payload
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}

	head := strings.ToLower(string(window))
	for _, marker := range []string{"<!doctype html", "<html", "<head", "<body"} {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}
