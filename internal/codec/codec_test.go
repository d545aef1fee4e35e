package codec

import (
	"bytes"
	"compress/gzip"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodePlainUTF8(t *testing.T) {
	in := "héllo wörld ✓"
	res, err := Decode([]byte(in), "", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != in || !res.Genuine() {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.GzippedLength != -1 {
		t.Fatalf("expected no gzip length, got %d", res.GzippedLength)
	}
}

func TestDecodeGzip(t *testing.T) {
	in := `{"ok":true}`
	res, err := Decode(gzipBytes(t, in), "GZIP", "application/json")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != in {
		t.Fatalf("expected %q, got %q", in, res.Text)
	}
	if res.Size != len(in) {
		t.Fatalf("unexpected size %d", res.Size)
	}

	long := strings.Repeat("compress me ", 200)
	res, err = Decode(gzipBytes(t, long), "gzip", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != long {
		t.Fatalf("round trip mismatch")
	}
	if res.GzippedLength >= res.Size {
		t.Fatalf("expected gzipped length %d below decoded size %d", res.GzippedLength, res.Size)
	}
}

func TestDecodeCorruptGzip(t *testing.T) {
	_, err := Decode([]byte("not gzip at all"), "gzip", "")
	if !errors.Is(err, ErrCorruptBody) {
		t.Fatalf("expected ErrCorruptBody, got %v", err)
	}
}

func TestDecodeUnsupportedEncoding(t *testing.T) {
	_, err := Decode([]byte("xx"), "br", "")
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("expected ErrUnsupportedEncoding, got %v", err)
	}
	h := http.Header{}
	h.Set("Content-Encoding", "br")
	if !HasUnknownEncoding(h) {
		t.Fatalf("expected br to be unknown")
	}
	h.Set("Content-Encoding", "Identity")
	if HasUnknownEncoding(h) {
		t.Fatalf("expected identity to be known")
	}
	if HasUnknownEncoding(http.Header{}) {
		t.Fatalf("expected missing encoding to be known")
	}
}

func TestDecodeEmptyIsAbsent(t *testing.T) {
	res, err := Decode(nil, "", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Absent || res.Genuine() {
		t.Fatalf("expected absent result, got %+v", res)
	}
}

func TestDecodeBinaryPlaceholder(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d}
	res, err := Decode(png, "", "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Binary || res.Genuine() {
		t.Fatalf("expected binary result, got %+v", res)
	}
	if res.Text != BinaryPlaceholder(len(png)) {
		t.Fatalf("unexpected placeholder %q", res.Text)
	}
}

func TestDecodeCharset(t *testing.T) {
	latin1 := []byte{'c', 'a', 'f', 0xe9}
	res, err := Decode(latin1, "", "text/plain; charset=ISO-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "café" {
		t.Fatalf("expected café, got %q", res.Text)
	}

	res, err = Decode([]byte("plain"), "", "text/plain; charset=no-such-charset")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "plain" {
		t.Fatalf("expected fallback decode, got %q", res.Text)
	}
}

func TestCharset(t *testing.T) {
	cases := map[string]string{
		"":                              "",
		"application/json":              "",
		"text/html; charset=UTF-8":      "UTF-8",
		"text/plain;charset=\"latin1\"": "latin1",
		"this is not a media type;;;=":  "",
	}
	for in, want := range cases {
		if got := Charset(in); got != want {
			t.Errorf("Charset(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsProbablyUTF8(t *testing.T) {
	if !IsProbablyUTF8([]byte("line one\nline two\r\n\ttabbed")) {
		t.Fatalf("expected whitespace controls to be allowed")
	}
	if IsProbablyUTF8([]byte{'a', 0x00, 'b'}) {
		t.Fatalf("expected NUL to be rejected")
	}
	// control bytes beyond the inspected window are not seen
	tail := append([]byte(strings.Repeat("a", 64)), 0x00)
	if !IsProbablyUTF8(tail) {
		t.Fatalf("expected only the prefix to be inspected")
	}
}
