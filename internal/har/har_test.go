package har

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/cavelog/pkg/types"
)

func sampleExchanges() []types.Exchange {
	return []types.Exchange{
		{
			ID:             2,
			URL:            "https://api.example.com/users?id=1&id=2",
			Method:         "GET",
			RequestHeaders: map[string]string{"Accept": "application/json", "Authorization": "██"},
			StatusCode:     types.Int(200),
			ResponseBody:   types.String(`{"ok":true}`),
			StartTime:      types.Int64(2000),
			EndTime:        types.Int64(2050),
		},
		{
			ID:                 1,
			URL:                "https://api.example.com/login",
			Method:             "POST",
			RequestBody:        types.String(`{"user":"a"}`),
			RequestContentType: types.String("application/json"),
			StartTime:          types.Int64(1000),
		},
	}
}

func TestBuildOrdersAndMarksPending(t *testing.T) {
	f := Build(sampleExchanges(), "test")
	if f.Log.Version != Version || f.Log.Creator.Name != CreatorName {
		t.Fatalf("unexpected log header %+v", f.Log)
	}
	if len(f.Log.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(f.Log.Entries))
	}
	first, second := f.Log.Entries[0], f.Log.Entries[1]
	if first.Request.Method != "POST" || first.Comment != PendingComment {
		t.Fatalf("expected pending POST first, got %+v", first)
	}
	if first.Response.Status != 0 || first.Request.PostData == nil || first.Request.PostData.MimeType != "application/json" {
		t.Fatalf("unexpected pending entry %+v", first)
	}
	if second.Time != 50 || second.Response.StatusText != "OK" {
		t.Fatalf("unexpected completed entry %+v", second)
	}
	if len(second.Request.QueryString) != 2 {
		t.Fatalf("expected multi-value query string, got %+v", second.Request.QueryString)
	}
	if second.Request.Headers[0].Name != "Accept" {
		t.Fatalf("expected sorted headers, got %+v", second.Request.Headers)
	}
}

func TestWriteThenParse(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleExchanges(), "test"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\n  \"log\"") {
		t.Fatalf("expected indented output")
	}
	path := filepath.Join(t.TempDir(), "out.har")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(list))
	}
	if !list[0].Pending() || list[0].RequestBody == nil || *list[0].RequestBody != `{"user":"a"}` {
		t.Fatalf("unexpected pending exchange %+v", list[0])
	}
	done := list[1]
	if done.Duration() != "50 mil" || done.ResponseBody == nil || *done.ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected completed exchange %+v", done)
	}
	if done.RequestHeaders["Authorization"] != "██" {
		t.Fatalf("expected redacted header preserved, got %+v", done.RequestHeaders)
	}
}

func TestParseBase64AndBinaryBodies(t *testing.T) {
	doc := map[string]any{
		"log": map[string]any{
			"entries": []any{map[string]any{
				"startedDateTime": "2024-01-01T00:00:00Z",
				"time":            12,
				"request": map[string]any{
					"method": "post",
					"url":    "https://x/upload",
					"postData": map[string]any{
						"mimeType": "image/png",
						"text":     "iVBORw0KGgo=",
						"encoding": "base64",
					},
				},
				"response": map[string]any{
					"status": 201,
					"content": map[string]any{
						"mimeType": "application/json",
						"text":     "eyJvayI6dHJ1ZX0=",
						"encoding": "base64",
					},
				},
			}},
		},
	}
	data, _ := json.Marshal(doc)
	path := filepath.Join(t.TempDir(), "b64.har")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 exchange")
	}
	x := list[0]
	if x.Method != "POST" || x.RequestBody != nil {
		t.Fatalf("expected binary request body dropped, got %+v", x)
	}
	if x.ResponseBody == nil || *x.ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected decoded response body %+v", x.ResponseBody)
	}
	if x.Duration() != "12 mil" {
		t.Fatalf("unexpected duration %q", x.Duration())
	}
}

func TestParseEmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.har")
	if err := os.WriteFile(path, []byte(`{"log":{"entries":[]}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no exchanges")
	}
	if _, err := Parse(filepath.Join(t.TempDir(), "not-exist.har")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
