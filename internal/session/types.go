package session

import (
	"slices"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// GameSession is the live, authoritative record of one game.
type GameSession struct {
	GameID      string `json:"game_id"`
	WhiteID     string `json:"white_id"`
	BlackID     string `json:"black_id"`
	TimeControl string `json:"time_control"`
	Category    string `json:"time_control_str"`

	CurrentFEN string       `json:"current_fen"`
	Turn       domain.Color `json:"turn"`

	InitialTime int        `json:"initial_time"`
	Increment   int        `json:"increment"`
	WhiteTime   int        `json:"white_time_remaining"`
	BlackTime   int        `json:"black_time_remaining"`
	LastMoveAt  *time.Time `json:"last_move_timestamp,omitempty"`

	MovesSAN []string `json:"moves_san"`
	MovesUCI []string `json:"moves_uci"`

	DrawOfferBy  string     `json:"draw_offer_by,omitempty"`
	Disconnected []string   `json:"disconnected_players"`
	Paused       bool       `json:"paused"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`

	Status  domain.Status `json:"status"`
	Result  domain.Result `json:"result,omitempty"`
	Opening string        `json:"opening,omitempty"`

	WhiteRating int `json:"white_rating"`
	BlackRating int `json:"black_rating"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *GameSession) Active() bool { return s.Status == domain.StatusActive }

// ColorOf returns the color userID plays, or false for non-participants.
func (s *GameSession) ColorOf(userID string) (domain.Color, bool) {
	switch userID {
	case s.WhiteID:
		return domain.White, true
	case s.BlackID:
		return domain.Black, true
	default:
		return "", false
	}
}

// PlayerOf returns the identity playing color c.
func (s *GameSession) PlayerOf(c domain.Color) string {
	if c == domain.White {
		return s.WhiteID
	}
	return s.BlackID
}

// Opponent returns the other participant of userID.
func (s *GameSession) Opponent(userID string) string {
	if userID == s.WhiteID {
		return s.BlackID
	}
	return s.WhiteID
}

// Remaining returns the clock of color c.
func (s *GameSession) Remaining(c domain.Color) int {
	if c == domain.White {
		return s.WhiteTime
	}
	return s.BlackTime
}

func (s *GameSession) IsDisconnected(userID string) bool {
	return slices.Contains(s.Disconnected, userID)
}

// Clone returns a deep copy so callers never share slices or pointers with the store.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	c := *s
	c.MovesSAN = slices.Clone(s.MovesSAN)
	c.MovesUCI = slices.Clone(s.MovesUCI)
	c.Disconnected = slices.Clone(s.Disconnected)
	c.LastMoveAt = cloneTime(s.LastMoveAt)
	c.PausedAt = cloneTime(s.PausedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
