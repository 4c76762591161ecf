package store

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateGame = errors.New("game already exists")
)

type NewGame struct {
	ID          string
	WhiteID     string
	BlackID     string
	TimeControl string
	Category    string
	InitialFEN  string
	WhiteRating int
	BlackRating int
	StartTime   time.Time
}

// ProfileUpdate is one participant's share of a finalized game.
type ProfileUpdate struct {
	UserID      string
	Category    string
	RatingDelta int
	Outcome     domain.Outcome
}

// FinalizedGame is the terminal write for a game. Applying it twice has the
// same effect as applying it once.
type FinalizedGame struct {
	GameID            string             `json:"game_id"`
	Result            domain.Result      `json:"result"`
	Termination       domain.Termination `json:"termination"`
	FinalFEN          string             `json:"final_fen"`
	MovesUCI          []string           `json:"moves_uci"`
	MovesSAN          []string           `json:"moves_san"`
	PGN               string             `json:"pgn"`
	Opening           string             `json:"opening,omitempty"`
	WhiteRatingChange int                `json:"white_rating_change"`
	BlackRatingChange int                `json:"black_rating_change"`
	EndTime           time.Time          `json:"end_time"`
	White             ProfileUpdate      `json:"white"`
	Black             ProfileUpdate      `json:"black"`
}

type GamePage struct {
	Games      []domain.Game
	Page       int
	PageSize   int
	TotalPages int
	TotalGames int
}

type GameRepository interface {
	CreateGame(ctx context.Context, g NewGame) error
	// FinalizeGame writes the outcome and both profile updates atomically.
	FinalizeGame(ctx context.Context, f FinalizedGame) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	// ListGames returns finished games of userID, newest first. Pages start at 1.
	ListGames(ctx context.Context, userID string, page, pageSize int) (GamePage, error)
}

type ProfileRepository interface {
	// GetProfile returns the profile of userID, creating a default one when missing.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	SetActivePuzzle(ctx context.Context, userID, puzzleID string) error
	SetPuzzleRating(ctx context.Context, userID string, rating int) error
}

type PuzzleRepository interface {
	GetPuzzle(ctx context.Context, id string) (*domain.Puzzle, error)
	// RandomPuzzleInRange picks a puzzle rated within [lo, hi]; ErrNotFound when none.
	RandomPuzzleInRange(ctx context.Context, lo, hi int) (*domain.Puzzle, error)
	IncrementPlayed(ctx context.Context, id string) error
	InsertSolve(ctx context.Context, s domain.PuzzleSolve) error
	SolveStats(ctx context.Context, userID string) (domain.SolveStats, error)
}

// Normalize clamps paging arguments.
func Normalize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// TotalPages returns the number of pages needed for total items.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
