package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/cavelog/pkg/types"
)

// Parse reads a HAR file into exchanges ready for insertion, ordered by start time.
// IDs are left zero.
func Parse(filePath string) ([]types.Exchange, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var hf File
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, err
	}
	list := make([]types.Exchange, 0, len(hf.Log.Entries))
	for _, e := range hf.Log.Entries {
		ts, err := time.Parse(time.RFC3339Nano, e.StartedDateTime)
		if err != nil {
			return nil, fmt.Errorf("parse startedDateTime: %w", err)
		}
		x := types.Exchange{
			URL:       e.Request.URL,
			Method:    strings.ToUpper(e.Request.Method),
			StartTime: types.Int64(ts.UnixMilli()),
		}
		if len(e.Request.Headers) > 0 {
			x.RequestHeaders = make(map[string]string, len(e.Request.Headers))
			for _, h := range e.Request.Headers {
				x.RequestHeaders[h.Name] = h.Value
			}
		}
		if pd := e.Request.PostData; pd != nil {
			if body, ok := decodeBody(pd.Text, pd.Encoding, pd.MimeType); ok {
				x.RequestBody = types.String(body)
			}
			if pd.MimeType != "" {
				x.RequestContentType = types.String(pd.MimeType)
			}
		}
		// a zero status is how exporters mark an entry without a response
		if e.Response.Status > 0 {
			x.StatusCode = types.Int(e.Response.Status)
			x.EndTime = types.Int64(ts.UnixMilli() + max(e.Time, 0))
			c := e.Response.Content
			if body, ok := decodeBody(c.Text, c.Encoding, c.MimeType); ok {
				x.ResponseBody = types.String(body)
			}
		}
		list = append(list, x)
	}

	sort.SliceStable(list, func(i, j int) bool {
		return *list[i].StartTime < *list[j].StartTime
	})
	return list, nil
}

// decodeBody returns the text of a HAR body, or false when it is empty or binary.
func decodeBody(text, encoding, mimeType string) (string, bool) {
	if text == "" {
		return "", false
	}
	if isBinaryContentType(mimeType) {
		return "", false
	}
	if strings.EqualFold(encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", false
		}
		return string(decoded), true
	}
	return text, true
}

func isBinaryContentType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/") || mt == "application/octet-stream"
}
