package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidTimeControl = errors.New("invalid time control")

// DefaultTimeControls lists the keys offered to matchmaking.
var DefaultTimeControls = []string{
	"1+0", "1+1", "2+1",
	"3+0", "3+2", "5+0",
	"10+0", "10+5", "15+10",
	"30+0", "30+20", "30+30",
}

type TimeControl struct {
	Key       string
	Initial   int // seconds
	Increment int // seconds
	Category  string
}

// ParseTimeControl parses "M+I" into initial seconds and increment seconds.
func ParseTimeControl(key string) (TimeControl, error) {
	key = strings.TrimSpace(key)
	minutes, inc, ok := strings.Cut(key, "+")
	if !ok {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, key)
	}
	m, err := strconv.Atoi(strings.TrimSpace(minutes))
	if err != nil || m <= 0 {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, key)
	}
	i, err := strconv.Atoi(strings.TrimSpace(inc))
	if err != nil || i < 0 {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, key)
	}
	tc := TimeControl{Key: fmt.Sprintf("%d+%d", m, i), Initial: m * 60, Increment: i}
	tc.Category = categorize(tc.Initial, tc.Increment)
	return tc, nil
}

// categorize buckets by estimated game length over 40 moves.
func categorize(initial, increment int) string {
	estimate := initial + 40*increment
	switch {
	case estimate < 180:
		return "bullet"
	case estimate < 480:
		return "blitz"
	case estimate < 1500:
		return "rapid"
	default:
		return "classical"
	}
}

// TimeControls is the set of keys a deployment accepts.
type TimeControls struct {
	byKey map[string]TimeControl
}

func NewTimeControls(keys []string) (*TimeControls, error) {
	if len(keys) == 0 {
		keys = DefaultTimeControls
	}
	tcs := &TimeControls{byKey: make(map[string]TimeControl, len(keys))}
	for _, k := range keys {
		tc, err := ParseTimeControl(k)
		if err != nil {
			return nil, err
		}
		tcs.byKey[tc.Key] = tc
	}
	return tcs, nil
}

// Lookup validates key and, when category is non-empty, checks it against the catalog.
func (t *TimeControls) Lookup(key, category string) (TimeControl, error) {
	tc, ok := t.byKey[strings.TrimSpace(key)]
	if !ok {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, key)
	}
	if c := strings.TrimSpace(category); c != "" && !strings.EqualFold(c, tc.Category) {
		return TimeControl{}, fmt.Errorf("%w: %q is %s, not %s", ErrInvalidTimeControl, key, tc.Category, c)
	}
	return tc, nil
}
