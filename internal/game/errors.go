package game

import (
	"errors"

	"github.com/park285/cheese-arena/internal/rules"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrNotParticipant = errors.New("not a participant of this game")
	ErrNotActive      = errors.New("game is not active")
	ErrNoDrawOffer    = errors.New("no pending draw offer")
	ErrPaused         = errors.New("game is paused until the opponent reconnects")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrMalformedMove  = rules.ErrMalformedMove
	ErrIllegalMove    = rules.ErrIllegalMove
	ErrMissingMove    = errors.New("missing uci in move message")
	ErrEmptyChat      = errors.New("empty chat message")
	ErrUnknownMessage = errors.New("unknown message type")
)

// IsConflict reports whether err is a benign race with server state that
// callers should drop without telling the client.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotActive) || errors.Is(err, ErrNoDrawOffer)
}
