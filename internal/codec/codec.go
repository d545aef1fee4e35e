// Package codec turns captured body bytes into loggable text.
package codec

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	// ErrUnsupportedEncoding means the Content-Encoding is neither identity nor gzip.
	// Callers skip the body; it is not an error of the exchange itself.
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	// ErrCorruptBody means a gzip body could not be inflated.
	ErrCorruptBody = errors.New("corrupt compressed body")
)

// Result is a decoded body.
type Result struct {
	Text string
	// Absent is set for an empty body. It is distinct from Text == "".
	Absent bool
	// Binary is set when the bytes were not plausibly UTF-8; Text then holds a placeholder.
	Binary bool
	// Size is the length in bytes after decompression.
	Size int
	// GzippedLength is the length before decompression, or -1 when the body was not gzipped.
	GzippedLength int
}

// Genuine reports whether r carries real text worth persisting.
func (r Result) Genuine() bool {
	return !r.Absent && !r.Binary && r.Text != ""
}

// BinaryPlaceholder is stored in place of a body that is not text.
func BinaryPlaceholder(n int) string {
	return fmt.Sprintf("<-- END HTTP (binary %d-byte body omitted)", n)
}

// HasUnknownEncoding reports whether h declares a Content-Encoding we cannot decode.
func HasUnknownEncoding(h http.Header) bool {
	return !supportedEncoding(h.Get("Content-Encoding"))
}

func supportedEncoding(enc string) bool {
	enc = strings.TrimSpace(enc)
	return enc == "" || strings.EqualFold(enc, "identity") || strings.EqualFold(enc, "gzip")
}

// Decode inflates gzip bodies, rejects unknown encodings, substitutes a placeholder
// for binary payloads and decodes text using the charset in contentType (UTF-8 by default).
func Decode(body []byte, contentEncoding, contentType string) (Result, error) {
	if !supportedEncoding(contentEncoding) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, contentEncoding)
	}
	res := Result{GzippedLength: -1}
	if len(body) == 0 {
		res.Absent = true
		return res, nil
	}

	buf := body
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip") {
		res.GzippedLength = len(body)
		inflated, err := gunzip(body)
		if err != nil {
			return Result{}, err
		}
		buf = inflated
	}
	res.Size = len(buf)
	if len(buf) == 0 {
		res.Absent = true
		return res, nil
	}

	if !IsProbablyUTF8(buf) {
		res.Binary = true
		res.Text = BinaryPlaceholder(len(buf))
		return res, nil
	}
	text, err := decodeCharset(buf, Charset(contentType))
	if err != nil {
		return Result{}, err
	}
	res.Text = text
	return res, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	return out, nil
}

// Charset returns the charset parameter of a media type, or "" when none is declared.
func Charset(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

func decodeCharset(b []byte, charset string) (string, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return string(b), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		// unknown charset names fall back to the default
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s body: %w", charset, err)
	}
	return string(out), nil
}

// IsProbablyUTF8 inspects up to the first 16 code points of the first 64 bytes
// and rejects the body if any of them is a control character other than whitespace.
// Invalid sequences decode as U+FFFD and do not count against the body, so
// legacy single-byte charsets still reach charset decoding.
func IsProbablyUTF8(b []byte) bool {
	prefix := b
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	for i := 0; i < 16 && len(prefix) > 0; i++ {
		r, size := utf8.DecodeRune(prefix)
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return false
		}
		prefix = prefix[size:]
	}
	return true
}
