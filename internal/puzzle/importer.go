package puzzle

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/park285/cheese-arena/internal/domain"
)

// Sink receives imported puzzles.
type Sink interface {
	InsertPuzzle(ctx context.Context, p domain.Puzzle) error
}

// Import reads puzzles in the Lichess export layout:
// PuzzleId,FEN,Moves,Rating,RatingDeviation,Popularity,NbPlays,Themes,GameUrl
// A header row is skipped. It returns the number of puzzles written.
func Import(ctx context.Context, r io.Reader, sink Sink) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	n, line := 0, 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read puzzle csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "PuzzleId") {
			continue
		}
		p, err := parseRecord(rec)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := sink.InsertPuzzle(ctx, p); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
}

func parseRecord(rec []string) (domain.Puzzle, error) {
	if len(rec) < 4 {
		return domain.Puzzle{}, fmt.Errorf("want at least 4 fields, got %d", len(rec))
	}
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	num := func(i int) (int, error) {
		if field(i) == "" {
			return 0, nil
		}
		return strconv.Atoi(field(i))
	}

	p := domain.Puzzle{
		ID:      field(0),
		FEN:     field(1),
		Moves:   strings.Fields(field(2)),
		Themes:  strings.Fields(field(7)),
		GameURL: field(8),
	}
	if p.ID == "" || p.FEN == "" || len(p.Moves) == 0 {
		return domain.Puzzle{}, errors.New("id, fen and moves are required")
	}
	var err error
	if p.Rating, err = num(3); err != nil {
		return domain.Puzzle{}, fmt.Errorf("rating: %w", err)
	}
	if p.Deviation, err = num(4); err != nil {
		return domain.Puzzle{}, fmt.Errorf("deviation: %w", err)
	}
	if p.Popularity, err = num(5); err != nil {
		return domain.Puzzle{}, fmt.Errorf("popularity: %w", err)
	}
	if p.TimesPlayed, err = num(6); err != nil {
		return domain.Puzzle{}, fmt.Errorf("plays: %w", err)
	}
	return p, nil
}
