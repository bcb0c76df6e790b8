package decoder

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

func gzipHTML(t *testing.T, html string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(html)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeGzipHTML(t *testing.T) {
	html := "<!DOCTYPE html><html><body>report</body></html>"
	d := Decode(gzipHTML(t, html))

	if d.Kind != KindHTML {
		t.Fatalf("expected html, got %s", d.Kind)
	}
	if d.HTML != html {
		t.Fatalf("round-trip mismatch: %q", d.HTML)
	}
	if d.Err != nil {
		t.Fatalf("unexpected error: %v", d.Err)
	}
}

func TestDecodeCorruptGzip(t *testing.T) {
	payload := []byte{0x1f, 0x8b, 0xff, 0x00, 0x01}
	d := Decode(payload)

	if d.Kind != KindUnknown {
		t.Fatalf("expected unknown for corrupt gzip, got %s", d.Kind)
	}
	if d.Err == nil {
		t.Fatal("expected decompression error to be flagged")
	}
	if !bytes.Equal(d.Bytes, payload) {
		t.Fatal("original bytes must be preserved")
	}
}

func TestDecodePDF(t *testing.T) {
	payload := []byte("%PDF-1.4\n%binary content here")
	d := Decode(payload)

	if d.Kind != KindPDF {
		t.Fatalf("expected pdf, got %s", d.Kind)
	}
	if !bytes.Equal(d.Bytes, payload) {
		t.Fatal("pdf bytes must round-trip unchanged")
	}
	if d.ContentType() != "application/pdf" {
		t.Fatalf("unexpected content type %s", d.ContentType())
	}
}

func TestDecodeRawHTML(t *testing.T) {
	for _, html := range []string{
		"<!DOCTYPE html><p>x</p>",
		"<HTML><BODY>upper</BODY></HTML>",
		"   <html lang=\"en\">leading whitespace</html>",
	} {
		d := Decode([]byte(html))
		if d.Kind != KindHTML {
			t.Errorf("expected html for %q, got %s", html, d.Kind)
		}
		if d.HTML != html {
			t.Errorf("round-trip mismatch for %q", html)
		}
	}
}

func TestDecodeSniffWindowLimit(t *testing.T) {
	// An HTML tag past the 2KB sniff window must not classify as html.
	payload := []byte(strings.Repeat("x", 3000) + "<html>")
	d := Decode(payload)
	if d.Kind != KindUnknown {
		t.Fatalf("expected unknown, got %s", d.Kind)
	}
}

func TestDecodeUnknown(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x02, 0x03}
	d := Decode(payload)

	if d.Kind != KindUnknown {
		t.Fatalf("expected unknown, got %s", d.Kind)
	}
	if !bytes.Equal(d.Bytes, payload) {
		t.Fatal("unknown bytes must round-trip unchanged")
	}
}

func TestDecodeDeterministic(t *testing.T) {
	payload := gzipHTML(t, "<html>same</html>")
	first := Decode(payload)
	second := Decode(payload)

	if first.Kind != second.Kind || first.HTML != second.HTML {
		t.Fatal("decoding the same bytes must yield identical results")
	}
}
