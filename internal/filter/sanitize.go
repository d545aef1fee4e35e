package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/yourorg/cavelog/internal/config"
)

// SanitizeConfig is an alias of config.SanitizeConfig.
type SanitizeConfig = config.SanitizeConfig

// DefaultMask replaces redacted header values.
const DefaultMask = "██"

// Redactor masks sensitive header values and JSON body fields.
// The header set can grow at runtime; readers never block writers.
type Redactor struct {
	headers atomic.Pointer[map[string]struct{}]
	fields  map[string]struct{}
	mask    string
	repl    string
}

// NewRedactor builds a Redactor from the configured header names and body fields.
func NewRedactor(headers []string, mask string, cfg SanitizeConfig) *Redactor {
	if mask == "" {
		mask = DefaultMask
	}
	r := &Redactor{fields: toLowerSet(cfg.BodyFields), mask: mask, repl: cfg.Replacement}
	if r.repl == "" {
		r.repl = mask
	}
	set := toLowerSet(headers)
	r.headers.Store(&set)
	return r
}

// RedactHeader adds name to the redaction set. It affects every later capture.
func (r *Redactor) RedactHeader(name string) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return
	}
	for {
		old := r.headers.Load()
		next := make(map[string]struct{}, len(*old)+1)
		for k := range *old {
			next[k] = struct{}{}
		}
		next[name] = struct{}{}
		if r.headers.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Mask is the token written in place of a redacted value.
func (r *Redactor) Mask() string {
	return r.mask
}

// Redacted reports whether header name is in the redaction set.
func (r *Redactor) Redacted(name string) bool {
	_, ok := (*r.headers.Load())[strings.ToLower(name)]
	return ok
}

// Value returns the loggable value of one header.
func (r *Redactor) Value(name, value string) string {
	if r.Redacted(name) {
		return r.mask
	}
	return value
}

// Headers flattens h into a redacted name -> value map. Multi-valued headers are joined with ", ".
func (r *Redactor) Headers(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = r.Value(k, strings.Join(vs, ", "))
	}
	return out
}

// Body redacts configured fields in a JSON body. Non-JSON bodies pass through.
func (r *Redactor) Body(body string) string {
	if len(r.fields) == 0 {
		return body
	}
	return sanitizeBody(body, r.fields, r.repl)
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

// sanitizeBody replaces the values of matching keys in a JSON body. Only those byte
// ranges change; the rest of the body is returned exactly as received. Bodies that
// are not a single JSON value, or contain no matching key, come back unchanged.
func sanitizeBody(body string, set map[string]struct{}, replacement string) string {
	if strings.TrimSpace(body) == "" {
		return body
	}
	spans, ok := matchedValueSpans(body, set)
	if !ok || len(spans) == 0 {
		return body
	}
	repl, err := encodeString(replacement)
	if err != nil {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))
	prev := 0
	for _, sp := range spans {
		b.WriteString(body[prev:sp.start])
		b.WriteString(repl)
		prev = sp.end
	}
	b.WriteString(body[prev:])
	return b.String()
}

type span struct{ start, end int }

// matchedValueSpans walks the token stream and records the byte range of every value
// whose object key is in set. A matched value is skipped whole, so nested matches
// inside it are not reported separately.
func matchedValueSpans(body string, set map[string]struct{}) ([]span, bool) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var (
		spans []span
		// inObject[i] is true when the i-th open container is an object
		inObject  []bool
		expectKey bool
	)
	afterValue := func() {
		expectKey = len(inObject) > 0 && inObject[len(inObject)-1]
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			// the decoder reports a truncated document as a plain EOF
			return spans, len(inObject) == 0
		}
		if err != nil {
			return nil, false
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				inObject = append(inObject, true)
				expectKey = true
			case '[':
				inObject = append(inObject, false)
				expectKey = false
			default:
				inObject = inObject[:len(inObject)-1]
				afterValue()
			}
		case string:
			if !expectKey {
				afterValue()
				continue
			}
			expectKey = false
			if _, ok := set[strings.ToLower(t)]; !ok {
				continue
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, false
			}
			end := int(dec.InputOffset())
			spans = append(spans, span{start: end - len(raw), end: end})
			expectKey = true
		default:
			afterValue()
		}
	}
}

func encodeString(v string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
