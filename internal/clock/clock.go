package clock

import (
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/session"
)

// Engine computes clock deductions for a session. Remaining times are whole
// seconds and elapsed time is floored.
type Engine struct {
	Now func() time.Time
}

func New(now func() time.Time) Engine {
	if now == nil {
		now = time.Now
	}
	return Engine{Now: now}
}

func (e Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Tick charges the side to move for the time since the last move. The first
// call only starts the clock. It reports the side whose time ran out.
func (e Engine) Tick(s *session.GameSession) (domain.Color, bool) {
	now := e.now()
	if s.LastMoveAt == nil {
		s.LastMoveAt = &now
		return "", false
	}
	elapsed := elapsedSeconds(*s.LastMoveAt, now)
	if s.Turn == domain.White {
		s.WhiteTime -= elapsed
		if s.WhiteTime <= 0 {
			return domain.White, true
		}
	} else {
		s.BlackTime -= elapsed
		if s.BlackTime <= 0 {
			return domain.Black, true
		}
	}
	return "", false
}

// PeekTimeout is the read-only form of Tick's timeout check.
func (e Engine) PeekTimeout(s *session.GameSession) (domain.Color, bool) {
	if s.LastMoveAt == nil {
		return "", false
	}
	elapsed := elapsedSeconds(*s.LastMoveAt, e.now())
	if s.Remaining(s.Turn)-elapsed <= 0 {
		return s.Turn, true
	}
	return "", false
}

// ApplyIncrement credits the side that just moved; call before the turn flips.
func (e Engine) ApplyIncrement(s *session.GameSession) {
	if s.Turn == domain.White {
		s.WhiteTime += s.Increment
	} else {
		s.BlackTime += s.Increment
	}
}

// Pause records when play stopped. Repeated calls keep the first timestamp.
func (e Engine) Pause(s *session.GameSession) {
	if s.PausedAt != nil {
		return
	}
	now := e.now()
	s.PausedAt = &now
}

// Resume moves the running clock's reference forward by the paused span so
// neither side is charged for it.
func (e Engine) Resume(s *session.GameSession) {
	if s.PausedAt == nil {
		return
	}
	if s.LastMoveAt != nil {
		if span := e.now().Sub(*s.PausedAt); span > 0 {
			shifted := s.LastMoveAt.Add(span)
			s.LastMoveAt = &shifted
		}
	}
	s.PausedAt = nil
}

func elapsedSeconds(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
