package httpapi

import (
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/session"
)

type gameView struct {
	ID                string     `json:"id"`
	Live              bool       `json:"live"`
	WhiteID           string     `json:"white_id"`
	BlackID           string     `json:"black_id"`
	TimeControl       string     `json:"time_control"`
	Category          string     `json:"time_control_str"`
	Status            string     `json:"status"`
	Result            string     `json:"result,omitempty"`
	FEN               string     `json:"fen"`
	Turn              string     `json:"turn,omitempty"`
	WhiteTime         *int       `json:"white_time,omitempty"`
	BlackTime         *int       `json:"black_time,omitempty"`
	Paused            bool       `json:"paused,omitempty"`
	MovesUCI          []string   `json:"moves_uci"`
	MovesSAN          []string   `json:"moves_san"`
	PGN               string     `json:"pgn,omitempty"`
	Opening           string     `json:"opening,omitempty"`
	WhiteRating       int        `json:"white_rating"`
	BlackRating       int        `json:"black_rating"`
	WhiteRatingChange int        `json:"white_rating_change"`
	BlackRatingChange int        `json:"black_rating_change"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
}

func liveView(s *session.GameSession) gameView {
	wt, bt := s.WhiteTime, s.BlackTime
	return gameView{
		ID:          s.GameID,
		Live:        s.Active(),
		WhiteID:     s.WhiteID,
		BlackID:     s.BlackID,
		TimeControl: s.TimeControl,
		Category:    s.Category,
		Status:      string(s.Status),
		Result:      string(s.Result),
		FEN:         s.CurrentFEN,
		Turn:        string(s.Turn),
		WhiteTime:   &wt,
		BlackTime:   &bt,
		Paused:      s.Paused,
		MovesUCI:    s.MovesUCI,
		MovesSAN:    s.MovesSAN,
		Opening:     s.Opening,
		WhiteRating: s.WhiteRating,
		BlackRating: s.BlackRating,
		StartTime:   s.StartedAt,
		EndTime:     s.EndedAt,
	}
}

func storedView(g *domain.Game) gameView {
	v := gameView{
		ID:                g.ID,
		WhiteID:           g.WhiteID,
		BlackID:           g.BlackID,
		TimeControl:       g.TimeControl,
		Category:          g.Category,
		Status:            string(g.Status),
		Result:            string(g.Result),
		FEN:               finalFEN(g),
		MovesUCI:          g.MovesUCI,
		MovesSAN:          g.MovesSAN,
		PGN:               g.PGN,
		Opening:           g.Opening,
		WhiteRating:       g.WhiteRating,
		BlackRating:       g.BlackRating,
		WhiteRatingChange: g.WhiteRatingChange,
		BlackRatingChange: g.BlackRatingChange,
		StartTime:         g.StartTime,
	}
	if g.Termination != "" {
		v.Status = string(g.Termination)
	}
	if !g.EndTime.IsZero() {
		end := g.EndTime
		v.EndTime = &end
	}
	return v
}

func finalFEN(g *domain.Game) string {
	if g.FinalFEN != "" {
		return g.FinalFEN
	}
	return g.InitialFEN
}

type opponentSummary struct {
	ID     string `json:"id"`
	Rating int    `json:"rating"`
}

// gameSummary is one row of a player's history, seen from that player.
type gameSummary struct {
	ID            string          `json:"id"`
	TimeControl   string          `json:"time_control"`
	Category      string          `json:"time_control_str"`
	Opponent      opponentSummary `json:"opponent"`
	PlayerColor   string          `json:"player_color"`
	Result        string          `json:"result"`
	EndReason     string          `json:"end_reason"`
	Date          time.Time       `json:"date"`
	Moves         int             `json:"moves"`
	RatingChange  int             `json:"rating_change"`
	FinalPosition string          `json:"final_position"`
}

func summarize(g domain.Game, userID string) gameSummary {
	color := domain.White
	opp := opponentSummary{ID: g.BlackID, Rating: g.BlackRating}
	change := g.WhiteRatingChange
	if g.BlackID == userID {
		color = domain.Black
		opp = opponentSummary{ID: g.WhiteID, Rating: g.WhiteRating}
		change = g.BlackRatingChange
	}
	date := g.EndTime
	if date.IsZero() {
		date = g.StartTime
	}
	reason := string(g.Termination)
	if reason == "" {
		reason = "unknown"
	}
	return gameSummary{
		ID:            g.ID,
		TimeControl:   g.TimeControl,
		Category:      g.Category,
		Opponent:      opp,
		PlayerColor:   string(color),
		Result:        string(domain.OutcomeFor(g.Result, color)),
		EndReason:     reason,
		Date:          date,
		Moves:         len(g.MovesUCI),
		RatingChange:  change,
		FinalPosition: g.FinalFEN,
	}
}

type gamePage struct {
	Games      []gameSummary `json:"games"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	TotalGames int           `json:"total_games"`
}

type profileView struct {
	UserID         string         `json:"user_id"`
	DisplayName    string         `json:"display_name,omitempty"`
	Ratings        map[string]int `json:"ratings"`
	TotalGames     int            `json:"total_games"`
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	Draws          int            `json:"draws"`
	ActivePuzzleID string         `json:"active_puzzle_id,omitempty"`
	MemberSince    time.Time      `json:"member_since"`
	LastActive     time.Time      `json:"last_active"`
}

type puzzleView struct {
	ID          string   `json:"id"`
	FEN         string   `json:"fen"`
	Moves       []string `json:"moves"`
	Rating      int      `json:"rating"`
	Popularity  int      `json:"popularity"`
	TimesPlayed int      `json:"times_played"`
	Themes      []string `json:"themes"`
	GameURL     string   `json:"game_url,omitempty"`
}

type statsView struct {
	Total               int     `json:"total"`
	Solved              int     `json:"solved"`
	Failed              int     `json:"failed"`
	SolvePercentage     float64 `json:"solve_percentage"`
	HighestSolvedRating int     `json:"highest_solved_rating"`
	CurrentRating       int     `json:"current_user_rating"`
}
