package types

import "testing"

func TestDuration(t *testing.T) {
	e := Exchange{URL: "http://x/a", Method: "GET", StartTime: Int64(1000)}
	if e.Duration() != "" {
		t.Fatalf("expected empty duration while pending, got %q", e.Duration())
	}
	if !e.Pending() {
		t.Fatalf("expected pending")
	}
	e.StatusCode = Int(200)
	e.EndTime = Int64(1050)
	if e.Duration() != "50 mil" {
		t.Fatalf("unexpected duration %q", e.Duration())
	}
	if e.Pending() {
		t.Fatalf("expected completed")
	}
	if e.Key() != "http://x/a GET" {
		t.Fatalf("unexpected key %q", e.Key())
	}
}

func TestCorrelationKeyDistinct(t *testing.T) {
	if CorrelationKey("http://x/aGET", "X") == CorrelationKey("http://x/a", "GETX") {
		t.Fatalf("different url/method pairs share a key")
	}
	if CorrelationKey("http://x/a", "GET") != (Exchange{URL: "http://x/a", Method: "GET"}).Key() {
		t.Fatalf("Key and CorrelationKey disagree")
	}
}
