package types

import "strconv"

// Exchange is one captured request/response pair.
type Exchange struct {
	ID                   int64             `json:"id"`
	URL                  string            `json:"url"`
	Method               string            `json:"method"`
	RequestHeaders       map[string]string `json:"request_headers,omitempty"`
	RequestBody          *string           `json:"request_body,omitempty"`
	RequestContentType   *string           `json:"request_content_type,omitempty"`
	RequestContentLength *string           `json:"request_content_length,omitempty"`
	StatusCode           *int              `json:"status_code,omitempty"`
	ResponseBody         *string           `json:"response_body,omitempty"`
	StartTime            *int64            `json:"start_time,omitempty"`
	EndTime              *int64            `json:"end_time,omitempty"`
}

// Key returns the correlation key used to match a response to its pending record.
func (e Exchange) Key() string {
	return CorrelationKey(e.URL, e.Method)
}

// CorrelationKey joins url and method the same way for requests and responses.
// The space cannot occur in a method token, so distinct pairs never share a key.
func CorrelationKey(url, method string) string {
	return url + " " + method
}

// Pending reports whether the response half has not been stored yet.
func (e Exchange) Pending() bool {
	return e.StatusCode == nil || e.EndTime == nil
}

// Elapsed returns endTime-startTime in milliseconds and whether both are set.
func (e Exchange) Elapsed() (int64, bool) {
	if e.StartTime == nil || e.EndTime == nil {
		return 0, false
	}
	return *e.EndTime - *e.StartTime, true
}

// Duration is the display form of Elapsed, e.g. "50 mil". Empty while pending.
func (e Exchange) Duration() string {
	ms, ok := e.Elapsed()
	if !ok {
		return ""
	}
	return strconv.FormatInt(ms, 10) + " mil"
}

// String returns a pointer to s, for the optional fields above.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }
