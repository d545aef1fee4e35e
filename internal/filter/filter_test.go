package filter

import (
	"net/url"
	"testing"

	"github.com/yourorg/cavelog/pkg/types"
)

func sampleExchanges() []types.Exchange {
	return []types.Exchange{
		{ID: 4, Method: "DELETE", URL: "https://api.example.com/users/1", StatusCode: types.Int(500), EndTime: types.Int64(4)},
		{ID: 3, Method: "GET", URL: "https://other.com/data", StatusCode: types.Int(404), EndTime: types.Int64(3)},
		{ID: 2, Method: "POST", URL: "https://api.example.com/users"},
		{ID: 1, Method: "GET", URL: "https://api.example.com/users", StatusCode: types.Int(200), EndTime: types.Int64(1)},
	}
}

func TestApplyByMethodAndURL(t *testing.T) {
	out := Apply(sampleExchanges(), Criteria{Method: "get"})
	if len(out) != 2 {
		t.Fatalf("expected 2 GET exchanges, got %d", len(out))
	}
	out = Apply(sampleExchanges(), Criteria{URLContains: "EXAMPLE.com"})
	if len(out) != 3 {
		t.Fatalf("expected 3 example.com exchanges, got %d", len(out))
	}
	if out[0].ID != 4 {
		t.Fatalf("expected order preserved")
	}
}

func TestApplyByStatus(t *testing.T) {
	if out := Apply(sampleExchanges(), Criteria{Status: 404}); len(out) != 1 {
		t.Fatalf("expected 1 exchange with 404, got %d", len(out))
	}
	if out := Apply(sampleExchanges(), Criteria{Status: 5}); len(out) != 1 || out[0].ID != 4 {
		t.Fatalf("expected the 5xx exchange, got %+v", out)
	}
}

func TestApplyPendingAndLimit(t *testing.T) {
	out := Apply(sampleExchanges(), Criteria{PendingOnly: true})
	if len(out) != 1 || out[0].ID != 2 {
		t.Fatalf("expected only the pending exchange, got %+v", out)
	}
	if out := Apply(sampleExchanges(), Criteria{Limit: 2}); len(out) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(out))
	}
}

func TestParseCriteria(t *testing.T) {
	q, _ := url.ParseQuery("method=POST&url=users&status=2&pending=true&limit=10")
	c := ParseCriteria(q)
	if c.Method != "POST" || c.URLContains != "users" || c.Status != 2 || !c.PendingOnly || c.Limit != 10 {
		t.Fatalf("unexpected criteria %+v", c)
	}
	if c := ParseCriteria(url.Values{"limit": {"-1"}, "status": {"x"}}); c.Limit != 0 || c.Status != 0 {
		t.Fatalf("expected invalid values ignored, got %+v", c)
	}
}
