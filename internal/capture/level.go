package capture

import (
	"fmt"
	"strings"
)

// Level controls how much of each exchange is logged and stored.
type Level int32

const (
	// LevelNone passes requests through untouched.
	LevelNone Level = iota
	// LevelBasic logs request and response summary lines. Nothing is stored.
	LevelBasic
	// LevelHeaders adds headers and stores the request half of each exchange.
	LevelHeaders
	// LevelBody adds bodies and completes stored exchanges with the response.
	LevelBody
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelBasic:
		return "basic"
	case LevelHeaders:
		return "headers"
	case LevelBody:
		return "body"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel accepts none, basic, headers or body, in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "basic":
		return LevelBasic, nil
	case "headers":
		return LevelHeaders, nil
	case "body":
		return LevelBody, nil
	}
	return LevelNone, fmt.Errorf("unknown capture level %q", s)
}
