package filter

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/yourorg/cavelog/pkg/types"
)

// Criteria narrows a list of exchanges for display. Zero values match everything.
type Criteria struct {
	Method      string
	URLContains string
	// Status matches an exact code, or a class when given as 1..5 (e.g. 5 matches 5xx).
	Status      int
	PendingOnly bool
	Limit       int
}

// Apply returns the exchanges matching c, preserving order.
func Apply(list []types.Exchange, c Criteria) []types.Exchange {
	out := make([]types.Exchange, 0, len(list))
	for _, e := range list {
		if c.Method != "" && !strings.EqualFold(e.Method, c.Method) {
			continue
		}
		if c.URLContains != "" && !strings.Contains(strings.ToLower(e.URL), strings.ToLower(c.URLContains)) {
			continue
		}
		if c.PendingOnly && !e.Pending() {
			continue
		}
		if c.Status != 0 && !matchesStatus(e.StatusCode, c.Status) {
			continue
		}
		out = append(out, e)
		if c.Limit > 0 && len(out) == c.Limit {
			break
		}
	}
	return out
}

// ParseCriteria reads criteria from query parameters: method, url, status, pending, limit.
func ParseCriteria(q url.Values) Criteria {
	c := Criteria{
		Method:      strings.TrimSpace(q.Get("method")),
		URLContains: strings.TrimSpace(q.Get("url")),
	}
	if v, err := strconv.Atoi(q.Get("status")); err == nil {
		c.Status = v
	}
	if v, err := strconv.ParseBool(q.Get("pending")); err == nil {
		c.PendingOnly = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		c.Limit = v
	}
	return c
}

func matchesStatus(code *int, want int) bool {
	if code == nil {
		return false
	}
	if want >= 1 && want <= 5 {
		return *code/100 == want
	}
	return *code == want
}
