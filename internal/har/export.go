package har

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/tidwall/pretty"

	"github.com/yourorg/cavelog/pkg/types"
)

// PendingComment marks entries whose response was never stored.
const PendingComment = "pending: no response captured"

// Build converts exchanges into a HAR document, oldest first.
func Build(list []types.Exchange, creatorVersion string) *File {
	f := &File{Log: Log{
		Version: Version,
		Creator: Creator{Name: CreatorName, Version: creatorVersion},
		Entries: make([]Entry, 0, len(list)),
	}}
	ordered := append([]types.Exchange(nil), list...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return startMillis(ordered[i]) < startMillis(ordered[j])
	})
	for _, e := range ordered {
		f.Log.Entries = append(f.Log.Entries, toEntry(e))
	}
	return f
}

// Write encodes the HAR document for list to w, indented.
func Write(w io.Writer, list []types.Exchange, creatorVersion string) error {
	data, err := json.Marshal(Build(list, creatorVersion))
	if err != nil {
		return fmt.Errorf("encode har: %w", err)
	}
	if _, err := w.Write(pretty.Pretty(data)); err != nil {
		return fmt.Errorf("write har: %w", err)
	}
	return nil
}

func toEntry(e types.Exchange) Entry {
	var started time.Time
	if e.StartTime != nil {
		started = time.UnixMilli(*e.StartTime).UTC()
	}
	elapsed, _ := e.Elapsed()
	if elapsed < 0 {
		elapsed = 0
	}

	req := Request{
		Method:      e.Method,
		URL:         e.URL,
		HTTPVersion: "HTTP/1.1",
		Headers:     headerList(e.RequestHeaders),
		QueryString: queryList(e.URL),
		Cookies:     []NameValue{},
		HeadersSize: -1,
		BodySize:    -1,
	}
	if e.RequestBody != nil {
		mime := ""
		if e.RequestContentType != nil {
			mime = *e.RequestContentType
		} else if v, ok := e.RequestHeaders["Content-Type"]; ok {
			mime = v
		}
		req.PostData = &PostData{MimeType: mime, Text: *e.RequestBody}
		req.BodySize = int64(len(*e.RequestBody))
	}

	resp := Response{
		HTTPVersion: "HTTP/1.1",
		Headers:     []NameValue{},
		Cookies:     []NameValue{},
		HeadersSize: -1,
		BodySize:    -1,
	}
	if e.StatusCode != nil {
		resp.Status = *e.StatusCode
		resp.StatusText = http.StatusText(*e.StatusCode)
	}
	if e.ResponseBody != nil {
		resp.Content = Content{Size: int64(len(*e.ResponseBody)), Text: *e.ResponseBody}
		if json.Valid([]byte(*e.ResponseBody)) {
			resp.Content.MimeType = "application/json"
		} else {
			resp.Content.MimeType = "text/plain"
		}
		resp.BodySize = resp.Content.Size
	}

	entry := Entry{
		StartedDateTime: started.Format(time.RFC3339Nano),
		Time:            elapsed,
		Request:         req,
		Response:        resp,
		Timings:         Timings{Wait: elapsed},
	}
	if e.Pending() {
		entry.Comment = PendingComment
	}
	return entry
}

func startMillis(e types.Exchange) int64 {
	if e.StartTime == nil {
		return 0
	}
	return *e.StartTime
}

func headerList(h map[string]string) []NameValue {
	out := make([]NameValue, 0, len(h))
	for k, v := range h {
		out = append(out, NameValue{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func queryList(raw string) []NameValue {
	out := []NameValue{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, NameValue{Name: k, Value: v})
		}
	}
	return out
}
