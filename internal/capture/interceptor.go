// Package capture records HTTP exchanges passing through an http.RoundTripper.
//
// The Interceptor is a pure observer: it never alters the request, the status,
// the headers or the bytes of either body. Capture and storage failures are
// logged and reported to the ErrorHandler, never returned to the caller.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yourorg/cavelog/internal/codec"
	"github.com/yourorg/cavelog/internal/filter"
	"github.com/yourorg/cavelog/internal/pending"
	"github.com/yourorg/cavelog/internal/store"
	"github.com/yourorg/cavelog/pkg/types"
)

// ErrorHandler observes capture failures such as store.ErrStorageFault.
type ErrorHandler func(error)

// Interceptor is an http.RoundTripper that logs and stores each exchange it forwards.
type Interceptor struct {
	next     http.RoundTripper
	store    store.Store
	pending  *pending.Index
	redactor *filter.Redactor
	logger   Logger
	level    atomic.Int32
	maxBody  int64
	now      func() time.Time
	onError  ErrorHandler
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLevel sets the initial capture level.
func WithLevel(l Level) Option {
	return func(i *Interceptor) { i.level.Store(int32(l)) }
}

// WithLogger replaces the slog line sink.
func WithLogger(l Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithRedactor sets the header and body redaction rules.
func WithRedactor(r *filter.Redactor) Option {
	return func(i *Interceptor) {
		if r != nil {
			i.redactor = r
		}
	}
}

// WithMaxBodyBytes caps how much of a body is buffered for capture. Zero means no cap.
func WithMaxBodyBytes(n int64) Option {
	return func(i *Interceptor) { i.maxBody = n }
}

// WithClock overrides the source of start and end timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithErrorHandler receives capture and storage failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(i *Interceptor) { i.onError = h }
}

// WithPending shares a pending-request index between interceptors.
func WithPending(p *pending.Index) Option {
	return func(i *Interceptor) {
		if p != nil {
			i.pending = p
		}
	}
}

// New wraps next. A nil next means http.DefaultTransport; a nil st disables persistence.
func New(next http.RoundTripper, st store.Store, opts ...Option) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	i := &Interceptor{
		next:     next,
		store:    st,
		pending:  pending.New(),
		redactor: filter.NewRedactor(nil, "", filter.SanitizeConfig{}),
		logger:   SlogLogger(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Level returns the current capture level.
func (i *Interceptor) Level() Level { return Level(i.level.Load()) }

// SetLevel changes the capture level for later requests.
func (i *Interceptor) SetLevel(l Level) { i.level.Store(int32(l)) }

// RedactHeader masks name (case-insensitive) in every later capture.
func (i *Interceptor) RedactHeader(name string) { i.redactor.RedactHeader(name) }

// Pending exposes the index of exchanges still waiting for their response.
func (i *Interceptor) Pending() *pending.Index { return i.pending }

// RoundTrip forwards req to the wrapped transport and records the exchange.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	level := i.Level()
	if level == LevelNone {
		return i.next.RoundTrip(req)
	}
	logBody := level == LevelBody
	logHeaders := logBody || level == LevelHeaders
	ctx := context.WithoutCancel(req.Context())

	rec := &types.Exchange{
		URL:       req.URL.String(),
		Method:    req.Method,
		StartTime: types.Int64(i.now().UnixMilli()),
	}

	start := fmt.Sprintf("--> %s %s", req.Method, rec.URL)
	if !logHeaders && hasBody(req) {
		n := req.ContentLength
		if n == 0 {
			// zero with a non-nil body means unknown
			n = -1
		}
		start += fmt.Sprintf(" (%s body)", sizeLabel(n))
	}
	i.logger.Log(start)

	if logHeaders {
		i.captureRequestHeaders(req, rec)
		i.captureRequestBody(req, rec, logBody)
		if i.persistRequest(ctx, rec) {
			i.pending.Add(rec.Key())
		}
	}

	began := time.Now()
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		i.logger.Log("<-- HTTP FAILED: " + err.Error())
		return nil, err
	}
	took := time.Since(began).Milliseconds()

	summary := fmt.Sprintf("<-- %s %s (%dms", resp.Status, rec.URL, took)
	if !logHeaders {
		summary += ", " + sizeLabel(resp.ContentLength) + " body"
	}
	i.logger.Log(summary + ")")

	if logHeaders {
		i.logHeaders(resp.Header)
		i.captureResponseBody(ctx, req, resp, logBody)
	}
	return resp, nil
}

func (i *Interceptor) captureRequestHeaders(req *http.Request, rec *types.Exchange) {
	desc := bodyDescriptor(req)
	if hasBody(req) {
		if desc.ContentType != "" && req.Header.Get("Content-Type") == "" {
			v := i.redactor.Value("Content-Type", desc.ContentType)
			i.logger.Log("Content-Type: " + v)
			rec.RequestContentType = types.String(v)
		}
		if req.ContentLength > 0 && req.Header.Get("Content-Length") == "" {
			v := i.redactor.Value("Content-Length", strconv.FormatInt(req.ContentLength, 10))
			i.logger.Log("Content-Length: " + v)
			rec.RequestContentLength = types.String(v)
		}
	}
	rec.RequestHeaders = i.redactor.Headers(req.Header)
	i.logHeaders(req.Header)
}

func (i *Interceptor) captureRequestBody(req *http.Request, rec *types.Exchange, logBody bool) {
	end := "--> END " + req.Method
	if !logBody || !hasBody(req) {
		i.logger.Log(end)
		return
	}
	desc := bodyDescriptor(req)
	switch {
	case codec.HasUnknownEncoding(req.Header):
		i.logger.Log(end + " (encoded body omitted)")
		return
	case desc.Flags&BodyDuplex != 0:
		i.logger.Log(end + " (duplex request body omitted)")
		return
	case desc.Flags&BodyOneShot != 0:
		i.logger.Log(end + " (one-shot body omitted)")
		return
	case i.maxBody > 0 && req.ContentLength > i.maxBody:
		i.logger.Log(fmt.Sprintf("%s (%d-byte body exceeds capture limit)", end, req.ContentLength))
		return
	}

	buf, err := readRequestBody(req, i.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		i.logger.Log(fmt.Sprintf("%s (body exceeds %d-byte capture limit)", end, i.maxBody))
		return
	}
	if err != nil {
		i.logger.Log(end + " (unreadable body omitted)")
		i.fail(fmt.Errorf("read request body: %w", err))
		return
	}

	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		contentType = desc.ContentType
	}
	res, err := codec.Decode(buf, req.Header.Get("Content-Encoding"), contentType)
	if err != nil {
		i.logger.Log(end + " (undecodable body omitted)")
		return
	}
	i.logger.Log("")
	switch {
	case res.Binary:
		i.logger.Log(fmt.Sprintf("%s (binary %d-byte body omitted)", end, res.Size))
	case res.Absent:
		i.logger.Log(end + " (0-byte body)")
	default:
		i.logger.Log(res.Text)
		rec.RequestBody = types.String(i.redactor.Body(res.Text))
		i.logger.Log(fmt.Sprintf("%s (%d-byte body)", end, len(buf)))
	}
}

func (i *Interceptor) captureResponseBody(ctx context.Context, req *http.Request, resp *http.Response, logBody bool) {
	const end = "<-- END HTTP"
	if !logBody || !promisesBody(resp) {
		i.logger.Log(end)
		return
	}
	if codec.HasUnknownEncoding(resp.Header) {
		i.logger.Log(end + " (encoded body omitted)")
		return
	}
	if i.maxBody > 0 && resp.ContentLength > i.maxBody {
		i.logger.Log(fmt.Sprintf("%s (%d-byte body exceeds capture limit)", end, resp.ContentLength))
		return
	}

	buf, ok, err := bufferResponseBody(resp, i.maxBody)
	if !ok {
		if errors.Is(err, errBodyTooLarge) {
			i.logger.Log(fmt.Sprintf("%s (body exceeds %d-byte capture limit)", end, i.maxBody))
			return
		}
		i.logger.Log(end + " (body read failed: " + err.Error() + ")")
		return
	}

	res, err := codec.Decode(buf, resp.Header.Get("Content-Encoding"), resp.Header.Get("Content-Type"))
	if err != nil {
		i.logger.Log(end + " (undecodable body omitted)")
		return
	}
	if res.Binary {
		i.logger.Log("")
		i.logger.Log(fmt.Sprintf("%s (binary %d-byte body omitted)", end, res.Size))
		return
	}

	if !res.Absent {
		i.logger.Log("")
		i.logger.Log(res.Text)
		if res.Genuine() {
			i.completeExchange(ctx, req, resp, res.Text)
		}
	}

	if res.GzippedLength >= 0 {
		i.logger.Log(fmt.Sprintf("%s (%d-byte, %d-gzipped-byte body)", end, res.Size, res.GzippedLength))
	} else {
		i.logger.Log(fmt.Sprintf("%s (%d-byte body)", end, res.Size))
	}
}

func (i *Interceptor) completeExchange(ctx context.Context, req *http.Request, resp *http.Response, body string) {
	origin := resp.Request
	if origin == nil {
		origin = req
	}
	url, method := origin.URL.String(), origin.Method
	if !i.pending.Take(types.CorrelationKey(url, method)) {
		slog.Debug("no pending exchange for response", "url", url, "method", method)
		return
	}
	if i.store == nil {
		return
	}
	endTime := i.now().UnixMilli()
	if _, err := i.store.UpdateByKey(ctx, url, method, resp.StatusCode, types.String(i.redactor.Body(body)), endTime); err != nil {
		i.fail(fmt.Errorf("complete exchange %s %s: %w", method, url, err))
	}
}

func (i *Interceptor) persistRequest(ctx context.Context, rec *types.Exchange) bool {
	if i.store == nil {
		return false
	}
	if _, err := i.store.Insert(ctx, rec); err != nil {
		i.fail(fmt.Errorf("store exchange %s %s: %w", rec.Method, rec.URL, err))
		return false
	}
	return true
}

func (i *Interceptor) logHeaders(h http.Header) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			i.logger.Log(name + ": " + i.redactor.Value(name, v))
		}
	}
}

func (i *Interceptor) fail(err error) {
	slog.Warn("capture failed", "error", err)
	if i.onError != nil {
		i.onError(err)
	}
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown-length"
	}
	return strconv.FormatInt(n, 10) + "-byte"
}
