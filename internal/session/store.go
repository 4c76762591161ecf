package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrNilSession = errors.New("nil session")
)

type Config struct {
	// TTL bounds how long an active session lives without being saved.
	TTL time.Duration
	// Grace keeps a finished session readable so late clients can learn the outcome.
	Grace  time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

type entry struct {
	session *GameSession
	expires time.Time
}

// live reports whether e is still readable at now. A paused game waits for
// its players without a deadline.
func (e *entry) live(now time.Time) bool {
	if e.session.Active() && e.session.Paused {
		return true
	}
	return now.Before(e.expires)
}

// Store is the in-memory session table. All reads and writes copy.
type Store struct {
	mu     sync.RWMutex
	items  map[string]*entry
	ttl    time.Duration
	grace  time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewStore(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		items:  make(map[string]*entry),
		ttl:    cfg.TTL,
		grace:  cfg.Grace,
		now:    cfg.Now,
		logger: obslog.Or(cfg.Logger),
	}
}

// Get returns a copy of the session. Expired entries are reported as missing.
func (s *Store) Get(gameID string) (*GameSession, error) {
	s.mu.RLock()
	e, ok := s.items[gameID]
	s.mu.RUnlock()
	if !ok || !e.live(s.now()) {
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

// Save stores a copy. Active sessions get a fresh TTL, finished ones the grace period.
func (s *Store) Save(gs *GameSession) error {
	if gs == nil {
		return ErrNilSession
	}
	life := s.ttl
	if !gs.Active() {
		life = s.grace
	}
	s.mu.Lock()
	s.items[gs.GameID] = &entry{session: gs.Clone(), expires: s.now().Add(life)}
	s.mu.Unlock()
	return nil
}

// MarkTerminal shortens a stored session's lifetime to the grace period.
func (s *Store) MarkTerminal(gameID string) {
	s.mu.Lock()
	if e, ok := s.items[gameID]; ok {
		e.expires = s.now().Add(s.grace)
	}
	s.mu.Unlock()
}

func (s *Store) Delete(gameID string) {
	s.mu.Lock()
	delete(s.items, gameID)
	s.mu.Unlock()
}

// Active lists the ids of sessions still in play.
func (s *Store) Active() []string {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id, e := range s.items {
		if e.session.Active() && e.live(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sweep evicts expired entries and returns how many were removed. Paused
// games are kept until they resume or finish.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.items {
		if e.live(now) {
			continue
		}
		if e.session.Active() {
			s.logger.Warn("session_evicted_active",
				zap.String("game_id", id),
				zap.Int("moves", len(e.session.MovesUCI)),
			)
		}
		delete(s.items, id)
		removed++
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("session_sweep", zap.Int("evicted", n))
			}
		}
	}
}
