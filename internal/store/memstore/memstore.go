// Package memstore is an in-memory implementation of the store interfaces,
// used when no database is configured and as the fake in tests.
package memstore

import (
	"context"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

type Store struct {
	mu sync.RWMutex

	games    map[string]*domain.Game
	profiles map[string]*domain.Profile
	puzzles  map[string]*domain.Puzzle
	solves   []domain.PuzzleSolve

	now func() time.Time
}

func New() *Store {
	return &Store{
		games:    make(map[string]*domain.Game),
		profiles: make(map[string]*domain.Profile),
		puzzles:  make(map[string]*domain.Puzzle),
		now:      time.Now,
	}
}

var (
	_ store.GameRepository    = (*Store)(nil)
	_ store.ProfileRepository = (*Store)(nil)
	_ store.PuzzleRepository  = (*Store)(nil)
)

func (s *Store) CreateGame(ctx context.Context, g store.NewGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.games[g.ID]; exists {
		return store.ErrDuplicateGame
	}
	s.games[g.ID] = &domain.Game{
		ID:          g.ID,
		WhiteID:     g.WhiteID,
		BlackID:     g.BlackID,
		TimeControl: g.TimeControl,
		Category:    g.Category,
		Status:      domain.GameActive,
		InitialFEN:  g.InitialFEN,
		WhiteRating: g.WhiteRating,
		BlackRating: g.BlackRating,
		StartTime:   g.StartTime,
	}
	return nil
}

func (s *Store) FinalizeGame(ctx context.Context, f store.FinalizedGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[f.GameID]
	if !ok {
		return store.ErrNotFound
	}
	if g.Status != domain.GameActive {
		return nil
	}
	g.Status = domain.GameCompleted
	g.Result = f.Result
	g.Termination = f.Termination
	g.FinalFEN = f.FinalFEN
	g.MovesUCI = slices.Clone(f.MovesUCI)
	g.MovesSAN = slices.Clone(f.MovesSAN)
	g.PGN = f.PGN
	g.Opening = f.Opening
	g.WhiteRatingChange = f.WhiteRatingChange
	g.BlackRatingChange = f.BlackRatingChange
	g.EndTime = f.EndTime

	for _, u := range []store.ProfileUpdate{f.White, f.Black} {
		p := s.profileLocked(u.UserID)
		p.Ratings[u.Category] = p.Rating(u.Category) + u.RatingDelta
		p.TotalGames++
		switch u.Outcome {
		case domain.OutcomeWin:
			p.Wins++
		case domain.OutcomeLoss:
			p.Losses++
		default:
			p.Draws++
		}
		p.LastActive = f.EndTime
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneGame(g), nil
}

func (s *Store) ListGames(ctx context.Context, userID string, page, pageSize int) (store.GamePage, error) {
	page, pageSize = store.Normalize(page, pageSize)
	s.mu.RLock()
	var items []*domain.Game
	for _, g := range s.games {
		if g.Status == domain.GameActive {
			continue
		}
		if g.WhiteID == userID || g.BlackID == userID {
			items = append(items, g)
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].StartTime.Equal(items[j].StartTime) {
			return items[i].StartTime.After(items[j].StartTime)
		}
		return items[i].ID > items[j].ID
	})
	out := store.GamePage{
		Page:       page,
		PageSize:   pageSize,
		TotalGames: len(items),
		TotalPages: store.TotalPages(len(items), pageSize),
	}
	start := (page - 1) * pageSize
	for i := start; i < len(items) && i < start+pageSize; i++ {
		out.Games = append(out.Games, *cloneGame(items[i]))
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProfile(s.profileLocked(userID)), nil
}

func (s *Store) SetActivePuzzle(ctx context.Context, userID, puzzleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileLocked(userID).ActivePuzzleID = puzzleID
	return nil
}

func (s *Store) SetPuzzleRating(ctx context.Context, userID string, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileLocked(userID).Ratings[domain.PuzzleCategory] = rating
	return nil
}

func (s *Store) profileLocked(userID string) *domain.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		now := s.now()
		p = &domain.Profile{
			UserID:      userID,
			DisplayName: userID,
			Ratings:     domain.DefaultRatings(),
			MemberSince: now,
			LastActive:  now,
		}
		s.profiles[userID] = p
	}
	return p
}

// AddPuzzle seeds a puzzle.
func (s *Store) AddPuzzle(p domain.Puzzle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.Moves = slices.Clone(p.Moves)
	cp.Themes = slices.Clone(p.Themes)
	s.puzzles[p.ID] = &cp
}

func (s *Store) InsertPuzzle(ctx context.Context, p domain.Puzzle) error {
	s.AddPuzzle(p)
	return nil
}

func (s *Store) GetPuzzle(ctx context.Context, id string) (*domain.Puzzle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.puzzles[strings.TrimSpace(id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	cp.Moves = slices.Clone(p.Moves)
	cp.Themes = slices.Clone(p.Themes)
	return &cp, nil
}

func (s *Store) RandomPuzzleInRange(ctx context.Context, lo, hi int) (*domain.Puzzle, error) {
	s.mu.RLock()
	var ids []string
	for id, p := range s.puzzles {
		if p.Rating >= lo && p.Rating <= hi {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPuzzle(ctx, ids[rand.IntN(len(ids))])
}

func (s *Store) IncrementPlayed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.puzzles[id]
	if !ok {
		return store.ErrNotFound
	}
	p.TimesPlayed++
	return nil
}

func (s *Store) InsertSolve(ctx context.Context, solve domain.PuzzleSolve) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solves = append(s.solves, solve)
	return nil
}

func (s *Store) SolveStats(ctx context.Context, userID string) (domain.SolveStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats domain.SolveStats
	for _, sv := range s.solves {
		if sv.UserID != userID || sv.RatingDelta == 0 {
			continue
		}
		stats.Total++
		if !sv.Success {
			continue
		}
		stats.Solved++
		if p, ok := s.puzzles[sv.PuzzleID]; ok && p.Rating > stats.HighestSolvedRating {
			stats.HighestSolvedRating = p.Rating
		}
	}
	stats.Failed = stats.Total - stats.Solved
	if stats.Total > 0 {
		stats.SolvePercentage = math.Round(float64(stats.Solved)/float64(stats.Total)*10000) / 100
	}
	stats.CurrentRating = s.profileLocked(userID).Rating(domain.PuzzleCategory)
	return stats, nil
}

// Solves returns a copy of every recorded solve.
func (s *Store) Solves() []domain.PuzzleSolve {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.solves)
}

func cloneGame(g *domain.Game) *domain.Game {
	cp := *g
	cp.MovesUCI = slices.Clone(g.MovesUCI)
	cp.MovesSAN = slices.Clone(g.MovesSAN)
	return &cp
}

func cloneProfile(p *domain.Profile) *domain.Profile {
	cp := *p
	cp.Ratings = maps.Clone(p.Ratings)
	return &cp
}
