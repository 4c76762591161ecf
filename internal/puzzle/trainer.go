// Package puzzle assigns rated tactics puzzles and scores attempts.
package puzzle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/store"
)

// RatingWindow is the distance from the user's puzzle rating a new puzzle may sit.
const RatingWindow = 100

var ErrNoPuzzle = errors.New("no puzzle in rating range")

type SolveResult struct {
	Success       bool   `json:"success"`
	RatingDelta   int    `json:"rating_delta"`
	NewRating     int    `json:"new_rating"`
	NextPuzzleID  string `json:"next_puzzle_id,omitempty"`
	RatingUpdated bool   `json:"rating_updated"`
}

type Trainer struct {
	profiles store.ProfileRepository
	puzzles  store.PuzzleRepository
	now      func() time.Time
	logger   *zap.Logger
}

func NewTrainer(profiles store.ProfileRepository, puzzles store.PuzzleRepository, logger *zap.Logger) *Trainer {
	return &Trainer{
		profiles: profiles,
		puzzles:  puzzles,
		now:      time.Now,
		logger:   obslog.Or(logger),
	}
}

// Get returns one puzzle.
func (t *Trainer) Get(ctx context.Context, id string) (*domain.Puzzle, error) {
	return t.puzzles.GetPuzzle(ctx, strings.TrimSpace(id))
}

// Refresh assigns a new active puzzle near the user's puzzle rating.
func (t *Trainer) Refresh(ctx context.Context, userID string) (string, error) {
	profile, err := t.profiles.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	next, err := t.pick(ctx, profile.Rating(domain.PuzzleCategory))
	if err != nil {
		return "", err
	}
	if err := t.profiles.SetActivePuzzle(ctx, userID, next.ID); err != nil {
		return "", fmt.Errorf("set active puzzle: %w", err)
	}
	return next.ID, nil
}

// Solve records an attempt. The rating only moves when puzzleID is the
// user's active puzzle; otherwise the attempt is stored with a zero delta.
func (t *Trainer) Solve(ctx context.Context, userID, puzzleID string, success bool) (SolveResult, error) {
	pz, err := t.puzzles.GetPuzzle(ctx, strings.TrimSpace(puzzleID))
	if err != nil {
		return SolveResult{}, err
	}
	if err := t.puzzles.IncrementPlayed(ctx, pz.ID); err != nil {
		return SolveResult{}, fmt.Errorf("increment played: %w", err)
	}
	profile, err := t.profiles.GetProfile(ctx, userID)
	if err != nil {
		return SolveResult{}, fmt.Errorf("load profile: %w", err)
	}

	before := profile.Rating(domain.PuzzleCategory)
	rated := profile.ActivePuzzleID != "" && profile.ActivePuzzleID == pz.ID
	res := SolveResult{Success: success, NewRating: before, RatingUpdated: rated}
	if rated {
		res.RatingDelta = rating.PuzzleDelta(before, pz.Rating, success, rating.PuzzleKFactor)
		res.NewRating = before + res.RatingDelta
		if err := t.profiles.SetPuzzleRating(ctx, userID, res.NewRating); err != nil {
			return SolveResult{}, fmt.Errorf("set puzzle rating: %w", err)
		}
	}

	solve := domain.PuzzleSolve{
		ID:           uuid.NewString(),
		UserID:       userID,
		PuzzleID:     pz.ID,
		Success:      success,
		RatingBefore: before,
		RatingAfter:  res.NewRating,
		RatingDelta:  res.RatingDelta,
		SolvedAt:     t.now().UTC(),
	}
	if err := t.puzzles.InsertSolve(ctx, solve); err != nil {
		return SolveResult{}, fmt.Errorf("record solve: %w", err)
	}

	if !rated {
		res.NextPuzzleID = profile.ActivePuzzleID
		return res, nil
	}
	next, err := t.pick(ctx, res.NewRating)
	switch {
	case errors.Is(err, ErrNoPuzzle):
		t.logger.Warn("puzzle_pool_exhausted", zap.String("user_id", userID), zap.Int("rating", res.NewRating))
	case err != nil:
		return SolveResult{}, err
	default:
		if err := t.profiles.SetActivePuzzle(ctx, userID, next.ID); err != nil {
			return SolveResult{}, fmt.Errorf("set active puzzle: %w", err)
		}
		res.NextPuzzleID = next.ID
	}
	t.logger.Debug("puzzle_solved",
		zap.String("user_id", userID),
		zap.String("puzzle_id", pz.ID),
		zap.Bool("success", success),
		zap.Int("delta", res.RatingDelta),
	)
	return res, nil
}

func (t *Trainer) Stats(ctx context.Context, userID string) (domain.SolveStats, error) {
	return t.puzzles.SolveStats(ctx, userID)
}

func (t *Trainer) pick(ctx context.Context, around int) (*domain.Puzzle, error) {
	p, err := t.puzzles.RandomPuzzleInRange(ctx, around-RatingWindow, around+RatingWindow)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPuzzle
	}
	if err != nil {
		return nil, fmt.Errorf("pick puzzle: %w", err)
	}
	return p, nil
}
