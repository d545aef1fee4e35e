package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// BodyFlags describe how an outgoing body may be read.
type BodyFlags uint8

const (
	// BodyDuplex marks a bidirectional streaming body.
	BodyDuplex BodyFlags = 1 << iota
	// BodyOneShot marks a body that can be read at most once.
	BodyOneShot
)

// BodyDescriptor carries what the transport headers do not say about a request body.
type BodyDescriptor struct {
	ContentType string
	Flags       BodyFlags
}

type bodyKey struct{}

// WithBody attaches d to req. The interceptor reads it to decide whether the body
// may be captured and to surface a Content-Type the headers lack.
func WithBody(req *http.Request, d BodyDescriptor) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), bodyKey{}, d))
}

func bodyDescriptor(req *http.Request) BodyDescriptor {
	d, _ := req.Context().Value(bodyKey{}).(BodyDescriptor)
	if req.GetBody == nil {
		// without GetBody a copy cannot be taken without draining the transport's reader
		d.Flags |= BodyOneShot
	}
	return d
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}

var errBodyTooLarge = errors.New("body exceeds capture limit")

// readRequestBody reads a fresh copy of the request body through GetBody.
func readRequestBody(req *http.Request, limit int64) ([]byte, error) {
	rc, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readLimited(rc, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return b, err
	}
	if int64(len(b)) > limit {
		return b, errBodyTooLarge
	}
	return b, nil
}

// replayBody is handed back to the caller in place of a response body we consumed.
// It yields the buffered bytes, then whatever remains of the original stream,
// then the read error the original produced, if any.
type replayBody struct {
	io.Reader
	orig io.Closer
}

func (r *replayBody) Close() error {
	if r.orig == nil {
		return nil
	}
	return r.orig.Close()
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// bufferResponseBody drains resp.Body (up to limit bytes) and replaces it with an
// equivalent reader. ok is false when the body was not fully buffered.
func bufferResponseBody(resp *http.Response, limit int64) (buf []byte, ok bool, err error) {
	orig := resp.Body
	buf, err = readLimited(orig, limit)
	switch {
	case err == nil:
		_ = orig.Close()
		resp.Body = &replayBody{Reader: bytes.NewReader(buf)}
		return buf, true, nil
	case errors.Is(err, errBodyTooLarge):
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), orig), orig: orig}
		return buf, false, err
	default:
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), errReader{err}), orig: orig}
		return buf, false, err
	}
}

// promisesBody mirrors the HTTP rules for which responses carry a body.
func promisesBody(resp *http.Response) bool {
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return false
	}
	code := resp.StatusCode
	if (code < 100 || code >= 200) && code != http.StatusNoContent && code != http.StatusNotModified {
		return true
	}
	if resp.ContentLength > 0 {
		return true
	}
	for _, te := range resp.TransferEncoding {
		if te == "chunked" {
			return true
		}
	}
	return false
}
