package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

type PGNHeader struct {
	WhiteID     string
	BlackID     string
	TimeControl string
	Termination domain.Termination
	Result      domain.Result
	Opening     string
	Date        time.Time
}

func pgnResult(r domain.Result) string {
	switch r {
	case domain.ResultWhiteWin:
		return "1-0"
	case domain.ResultBlackWin:
		return "0-1"
	case domain.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// MoveText numbers SAN moves: "1. e4 e5 2. Nf3".
func MoveText(movesSAN []string) string {
	var b strings.Builder
	for i := 0; i < len(movesSAN); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(movesSAN[i]))
		if i+1 < len(movesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(movesSAN[i+1]))
		}
	}
	return b.String()
}

// BuildPGN renders a full PGN with a seven-tag-style header.
func BuildPGN(h PGNHeader, movesSAN []string) string {
	date := h.Date
	if date.IsZero() {
		date = time.Now()
	}
	result := pgnResult(h.Result)

	var b strings.Builder
	b.WriteString("[Event \"Rated game\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(h.WhiteID))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(h.BlackID))
	fmt.Fprintf(&b, "[Result \"%s\"]\n", result)
	if tc := strings.TrimSpace(h.TimeControl); tc != "" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(tc))
	}
	if h.Termination != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(string(h.Termination)))
	}
	if o := strings.TrimSpace(h.Opening); o != "" {
		fmt.Fprintf(&b, "[Opening \"%s\"]\n", sanitizePGN(o))
	}
	b.WriteString("\n")
	if text := MoveText(movesSAN); text != "" {
		b.WriteString(text)
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
