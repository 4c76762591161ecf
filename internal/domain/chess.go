package domain

import "time"

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

type Result string

const (
	ResultWhiteWin Result = "white_win"
	ResultBlackWin Result = "black_win"
	ResultDraw     Result = "draw"
)

// WinFor returns the result in which the given color won.
func WinFor(c Color) Result {
	if c == White {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

type Termination string

const (
	Checkmate            Termination = "checkmate"
	Resignation          Termination = "resignation"
	Timeout              Termination = "timeout"
	DrawAgreement        Termination = "draw_agreement"
	Stalemate            Termination = "stalemate"
	InsufficientMaterial Termination = "insufficient_material"
	FiftyMoveRule        Termination = "fifty_move_rule"
	ThreefoldRepetition  Termination = "threefold_repetition"
)

// Status is the lifecycle of a live session. Terminal statuses reuse the termination string.
type Status string

const StatusActive Status = "active"

// GameStatus is the lifecycle of a persisted game row.
type GameStatus string

const (
	GameActive    GameStatus = "active"
	GameCompleted GameStatus = "completed"
	GameAborted   GameStatus = "aborted"
)

// Outcome is a single player's view of a finished game.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// OutcomeFor maps a game result onto the given color.
func OutcomeFor(r Result, c Color) Outcome {
	switch {
	case r == ResultDraw:
		return OutcomeDraw
	case r == WinFor(c):
		return OutcomeWin
	default:
		return OutcomeLoss
	}
}

type Game struct {
	ID                string
	WhiteID           string
	BlackID           string
	TimeControl       string
	Category          string
	Status            GameStatus
	Result            Result
	Termination       Termination
	InitialFEN        string
	FinalFEN          string
	MovesUCI          []string
	MovesSAN          []string
	PGN               string
	Opening           string
	WhiteRating       int
	BlackRating       int
	WhiteRatingChange int
	BlackRatingChange int
	StartTime         time.Time
	EndTime           time.Time
}

type Profile struct {
	UserID         string
	DisplayName    string
	Ratings        map[string]int
	TotalGames     int
	Wins           int
	Losses         int
	Draws          int
	ActivePuzzleID string
	MemberSince    time.Time
	LastActive     time.Time
}

const PuzzleCategory = "puzzle"

// DefaultRatings is the rating map a new profile starts with.
func DefaultRatings() map[string]int {
	return map[string]int{
		"bullet":       1200,
		"blitz":        1200,
		"rapid":        1200,
		"classical":    1200,
		PuzzleCategory: 500,
	}
}

// Rating returns the profile rating for a category, defaulting to the starting value.
func (p *Profile) Rating(category string) int {
	if p != nil && p.Ratings != nil {
		if r, ok := p.Ratings[category]; ok {
			return r
		}
	}
	return DefaultRatings()[category]
}

type Puzzle struct {
	ID          string
	FEN         string
	Moves       []string
	Rating      int
	Deviation   int
	Popularity  int
	TimesPlayed int
	Themes      []string
	GameURL     string
}

type PuzzleSolve struct {
	ID           string
	UserID       string
	PuzzleID     string
	Success      bool
	RatingBefore int
	RatingAfter  int
	RatingDelta  int
	SolvedAt     time.Time
}

type SolveStats struct {
	Total               int
	Solved              int
	Failed              int
	SolvePercentage     float64
	HighestSolvedRating int
	CurrentRating       int
}
