package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewProxy returns a reverse proxy to target whose outgoing calls go through rt,
// normally a capture.Interceptor. Incoming bodies up to maxBody bytes (zero means
// no cap) are buffered so the transport can read them a second time.
func NewProxy(target *url.URL, rt http.RoundTripper, maxBody int64) (http.Handler, error) {
	if target == nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.New("proxy target must be an absolute url")
	}
	if rt == nil {
		return nil, errors.New("proxy transport is nil")
	}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("proxy upstream failed", "method", r.Method, "url", r.URL.String(), "error", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}
	return replayableBody(rp, maxBody), nil
}

// replayableBody gives server requests a GetBody, which the outgoing clone keeps.
// Bodies over limit are streamed through untouched.
func replayableBody(next http.Handler, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
			next.ServeHTTP(w, r)
			return
		}
		if limit > 0 && r.ContentLength > limit {
			next.ServeHTTP(w, r)
			return
		}
		orig := r.Body
		src := io.Reader(orig)
		if limit > 0 {
			src = io.LimitReader(orig, limit+1)
		}
		buf, err := io.ReadAll(src)
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		if limit > 0 && int64(len(buf)) > limit {
			r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), orig), Closer: orig}
			next.ServeHTTP(w, r)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
		next.ServeHTTP(w, r)
	})
}

type readCloser struct {
	io.Reader
	io.Closer
}

// ServeProxy runs h on addr until ctx is cancelled.
func ServeProxy(ctx context.Context, addr string, h http.Handler) error {
	return serve(ctx, addr, h)
}

func urlHost(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
