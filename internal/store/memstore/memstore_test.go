package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

func finalized(id string) store.FinalizedGame {
	return store.FinalizedGame{
		GameID:            id,
		Result:            domain.ResultWhiteWin,
		Termination:       domain.Resignation,
		FinalFEN:          "fen",
		MovesUCI:          []string{"e2e4"},
		MovesSAN:          []string{"e4"},
		WhiteRatingChange: 10,
		BlackRatingChange: -10,
		EndTime:           time.Now(),
		White:             store.ProfileUpdate{UserID: "w", Category: "blitz", RatingDelta: 10, Outcome: domain.OutcomeWin},
		Black:             store.ProfileUpdate{UserID: "b", Category: "blitz", RatingDelta: -10, Outcome: domain.OutcomeLoss},
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateGame(ctx, store.NewGame{ID: "g1", WhiteID: "w", BlackID: "b", Category: "blitz"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateGame(ctx, store.NewGame{ID: "g1"}); !errors.Is(err, store.ErrDuplicateGame) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.FinalizeGame(ctx, finalized("g1")); err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
	}
	w, _ := s.GetProfile(ctx, "w")
	if w.Rating("blitz") != 1210 || w.Wins != 1 || w.TotalGames != 1 {
		t.Fatalf("white profile = %+v", w)
	}
	b, _ := s.GetProfile(ctx, "b")
	if b.Rating("blitz") != 1190 || b.Losses != 1 {
		t.Fatalf("black profile = %+v", b)
	}
	g, err := s.GetGame(ctx, "g1")
	if err != nil || g.Status != domain.GameCompleted || g.FinalFEN != "fen" {
		t.Fatalf("game = %+v err=%v", g, err)
	}
	if err := s.FinalizeGame(ctx, finalized("missing")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListGamesPaging(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("g%d", i)
		s.CreateGame(ctx, store.NewGame{ID: id, WhiteID: "w", BlackID: "b", Category: "blitz", StartTime: base.Add(time.Duration(i) * time.Hour)})
		if i < 4 {
			s.FinalizeGame(ctx, finalized(id))
		}
	}
	page, err := s.ListGames(ctx, "w", 1, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalGames != 4 || page.TotalPages != 2 || len(page.Games) != 3 {
		t.Fatalf("page = %+v", page)
	}
	if page.Games[0].ID != "g3" {
		t.Fatalf("newest first expected, got %s", page.Games[0].ID)
	}
	second, _ := s.ListGames(ctx, "b", 2, 3)
	if len(second.Games) != 1 || second.Games[0].ID != "g0" {
		t.Fatalf("second page = %+v", second.Games)
	}
}

func TestPuzzleRangeAndStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddPuzzle(domain.Puzzle{ID: "p1", Rating: 450})
	s.AddPuzzle(domain.Puzzle{ID: "p2", Rating: 900})

	p, err := s.RandomPuzzleInRange(ctx, 400, 600)
	if err != nil || p.ID != "p1" {
		t.Fatalf("range pick = %+v err=%v", p, err)
	}
	if _, err := s.RandomPuzzleInRange(ctx, 1500, 1600); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	s.InsertSolve(ctx, domain.PuzzleSolve{UserID: "u", PuzzleID: "p1", Success: true, RatingDelta: 20})
	s.InsertSolve(ctx, domain.PuzzleSolve{UserID: "u", PuzzleID: "p2", Success: false, RatingDelta: -5})
	s.InsertSolve(ctx, domain.PuzzleSolve{UserID: "u", PuzzleID: "p2", Success: true, RatingDelta: 0})

	stats, _ := s.SolveStats(ctx, "u")
	if stats.Total != 2 || stats.Solved != 1 || stats.Failed != 1 || stats.SolvePercentage != 50 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.HighestSolvedRating != 450 || stats.CurrentRating != 500 {
		t.Fatalf("stats = %+v", stats)
	}
}
