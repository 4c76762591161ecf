// Package postgres persists games, profiles, and puzzles in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

// Connect opens a pooled connection and verifies it.
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

var (
	_ store.GameRepository    = (*Store)(nil)
	_ store.ProfileRepository = (*Store)(nil)
	_ store.PuzzleRepository  = (*Store)(nil)
)

type gameRow struct {
	ID                string         `db:"id"`
	WhiteID           string         `db:"white_id"`
	BlackID           string         `db:"black_id"`
	TimeControl       string         `db:"time_control"`
	Category          string         `db:"category"`
	Status            string         `db:"status"`
	Result            sql.NullString `db:"result"`
	Termination       sql.NullString `db:"termination"`
	InitialFEN        string         `db:"initial_fen"`
	FinalFEN          sql.NullString `db:"final_fen"`
	MovesUCI          []byte         `db:"moves_uci"`
	MovesSAN          []byte         `db:"moves_san"`
	PGN               sql.NullString `db:"pgn"`
	Opening           sql.NullString `db:"opening"`
	WhiteRating       int            `db:"white_rating"`
	BlackRating       int            `db:"black_rating"`
	WhiteRatingChange int            `db:"white_rating_change"`
	BlackRatingChange int            `db:"black_rating_change"`
	StartTime         time.Time      `db:"start_time"`
	EndTime           sql.NullTime   `db:"end_time"`
}

const gameColumns = `id, white_id, black_id, time_control, category, status, result, termination,
	initial_fen, final_fen, moves_uci, moves_san, pgn, opening, white_rating, black_rating,
	white_rating_change, black_rating_change, start_time, end_time`

func (r gameRow) toDomain() (*domain.Game, error) {
	g := &domain.Game{
		ID:                r.ID,
		WhiteID:           r.WhiteID,
		BlackID:           r.BlackID,
		TimeControl:       r.TimeControl,
		Category:          r.Category,
		Status:            domain.GameStatus(r.Status),
		Result:            domain.Result(r.Result.String),
		Termination:       domain.Termination(r.Termination.String),
		InitialFEN:        r.InitialFEN,
		FinalFEN:          r.FinalFEN.String,
		PGN:               r.PGN.String,
		Opening:           r.Opening.String,
		WhiteRating:       r.WhiteRating,
		BlackRating:       r.BlackRating,
		WhiteRatingChange: r.WhiteRatingChange,
		BlackRatingChange: r.BlackRatingChange,
		StartTime:         r.StartTime,
	}
	if r.EndTime.Valid {
		g.EndTime = r.EndTime.Time
	}
	if err := json.Unmarshal(r.MovesUCI, &g.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(r.MovesSAN, &g.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return g, nil
}

func (s *Store) CreateGame(ctx context.Context, g store.NewGame) error {
	const query = `
		INSERT INTO games (id, white_id, black_id, time_control, category, initial_fen,
			white_rating, black_rating, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		g.ID, g.WhiteID, g.BlackID, g.TimeControl, g.Category, g.InitialFEN,
		g.WhiteRating, g.BlackRating, g.StartTime)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return store.ErrDuplicateGame
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// FinalizeGame updates the game row and both profiles in one transaction.
// A game that is no longer active is left untouched.
func (s *Store) FinalizeGame(ctx context.Context, f store.FinalizedGame) error {
	movesUCI, err := json.Marshal(nonNil(f.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(f.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	const update = `
		UPDATE games SET
			status = 'completed',
			result = $2,
			termination = $3,
			final_fen = $4,
			moves_uci = $5::jsonb,
			moves_san = $6::jsonb,
			pgn = $7,
			opening = NULLIF($8, ''),
			white_rating_change = $9,
			black_rating_change = $10,
			end_time = $11
		WHERE id = $1 AND status = 'active'`
	res, err := tx.ExecContext(ctx, update,
		f.GameID, string(f.Result), string(f.Termination), f.FinalFEN, movesUCI, movesSAN,
		f.PGN, f.Opening, f.WhiteRatingChange, f.BlackRatingChange, f.EndTime)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, f.GameID); err != nil {
			return fmt.Errorf("check game: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return nil
	}

	for _, u := range []store.ProfileUpdate{f.White, f.Black} {
		if err := ensureProfile(ctx, tx, u.UserID); err != nil {
			return err
		}
		wins, losses, draws := 0, 0, 0
		switch u.Outcome {
		case domain.OutcomeWin:
			wins = 1
		case domain.OutcomeLoss:
			losses = 1
		default:
			draws = 1
		}
		const bump = `
			UPDATE profiles SET
				ratings = jsonb_set(ratings, ARRAY[$2::text],
					to_jsonb(COALESCE((ratings->>$2::text)::int, $3) + $4)),
				total_games = total_games + 1,
				wins = wins + $5,
				losses = losses + $6,
				draws = draws + $7,
				last_active = $8
			WHERE user_id = $1`
		start := domain.DefaultRatings()[u.Category]
		if _, err := tx.ExecContext(ctx, bump,
			u.UserID, u.Category, start, u.RatingDelta, wins, losses, draws, f.EndTime); err != nil {
			return fmt.Errorf("update profile %s: %w", u.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return row.toDomain()
}

func (s *Store) ListGames(ctx context.Context, userID string, page, pageSize int) (store.GamePage, error) {
	page, pageSize = store.Normalize(page, pageSize)
	out := store.GamePage{Page: page, PageSize: pageSize}

	const where = `(white_id = $1 OR black_id = $1) AND status <> 'active'`
	if err := s.db.GetContext(ctx, &out.TotalGames, `SELECT COUNT(*) FROM games WHERE `+where, userID); err != nil {
		return out, fmt.Errorf("count games: %w", err)
	}
	out.TotalPages = store.TotalPages(out.TotalGames, pageSize)

	var rows []gameRow
	query := `SELECT ` + gameColumns + ` FROM games WHERE ` + where +
		` ORDER BY start_time DESC, id DESC LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &rows, query, userID, pageSize, (page-1)*pageSize); err != nil {
		return out, fmt.Errorf("select games: %w", err)
	}
	for _, r := range rows {
		g, err := r.toDomain()
		if err != nil {
			return out, err
		}
		out.Games = append(out.Games, *g)
	}
	return out, nil
}

type profileRow struct {
	UserID         string         `db:"user_id"`
	DisplayName    string         `db:"display_name"`
	Ratings        []byte         `db:"ratings"`
	TotalGames     int            `db:"total_games"`
	Wins           int            `db:"wins"`
	Losses         int            `db:"losses"`
	Draws          int            `db:"draws"`
	ActivePuzzleID sql.NullString `db:"active_puzzle_id"`
	MemberSince    time.Time      `db:"member_since"`
	LastActive     time.Time      `db:"last_active"`
}

func ensureProfile(ctx context.Context, ext sqlx.ExtContext, userID string) error {
	ratings, err := json.Marshal(domain.DefaultRatings())
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO profiles (user_id, display_name, ratings)
		VALUES ($1, $1, $2::jsonb)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := ext.ExecContext(ctx, query, userID, ratings); err != nil {
		return fmt.Errorf("ensure profile %s: %w", userID, err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := ensureProfile(ctx, s.db, userID); err != nil {
		return nil, err
	}
	var row profileRow
	const query = `
		SELECT user_id, display_name, ratings, total_games, wins, losses, draws,
			active_puzzle_id, member_since, last_active
		FROM profiles WHERE user_id = $1`
	if err := s.db.GetContext(ctx, &row, query, userID); err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	p := &domain.Profile{
		UserID:         row.UserID,
		DisplayName:    row.DisplayName,
		TotalGames:     row.TotalGames,
		Wins:           row.Wins,
		Losses:         row.Losses,
		Draws:          row.Draws,
		ActivePuzzleID: row.ActivePuzzleID.String,
		MemberSince:    row.MemberSince,
		LastActive:     row.LastActive,
	}
	if err := json.Unmarshal(row.Ratings, &p.Ratings); err != nil {
		return nil, fmt.Errorf("unmarshal ratings: %w", err)
	}
	return p, nil
}

func (s *Store) SetActivePuzzle(ctx context.Context, userID, puzzleID string) error {
	if err := ensureProfile(ctx, s.db, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET active_puzzle_id = NULLIF($2, ''), last_active = NOW() WHERE user_id = $1`,
		userID, puzzleID)
	if err != nil {
		return fmt.Errorf("set active puzzle: %w", err)
	}
	return nil
}

func (s *Store) SetPuzzleRating(ctx context.Context, userID string, rating int) error {
	if err := ensureProfile(ctx, s.db, userID); err != nil {
		return err
	}
	const query = `
		UPDATE profiles SET ratings = jsonb_set(ratings, ARRAY[$2::text], to_jsonb($3::int))
		WHERE user_id = $1`
	if _, err := s.db.ExecContext(ctx, query, userID, domain.PuzzleCategory, rating); err != nil {
		return fmt.Errorf("set puzzle rating: %w", err)
	}
	return nil
}

type puzzleRow struct {
	ID          string `db:"id"`
	FEN         string `db:"fen"`
	Moves       []byte `db:"moves"`
	Rating      int    `db:"rating"`
	Deviation   int    `db:"deviation"`
	Popularity  int    `db:"popularity"`
	TimesPlayed int    `db:"times_played"`
	Themes      []byte `db:"themes"`
	GameURL     string `db:"game_url"`
}

const puzzleColumns = `id, fen, moves, rating, deviation, popularity, times_played, themes, game_url`

func (r puzzleRow) toDomain() (*domain.Puzzle, error) {
	p := &domain.Puzzle{
		ID:          r.ID,
		FEN:         r.FEN,
		Rating:      r.Rating,
		Deviation:   r.Deviation,
		Popularity:  r.Popularity,
		TimesPlayed: r.TimesPlayed,
		GameURL:     r.GameURL,
	}
	if err := json.Unmarshal(r.Moves, &p.Moves); err != nil {
		return nil, fmt.Errorf("unmarshal puzzle moves: %w", err)
	}
	if err := json.Unmarshal(r.Themes, &p.Themes); err != nil {
		return nil, fmt.Errorf("unmarshal puzzle themes: %w", err)
	}
	return p, nil
}

func (s *Store) GetPuzzle(ctx context.Context, id string) (*domain.Puzzle, error) {
	var row puzzleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+puzzleColumns+` FROM puzzles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select puzzle: %w", err)
	}
	return row.toDomain()
}

func (s *Store) RandomPuzzleInRange(ctx context.Context, lo, hi int) (*domain.Puzzle, error) {
	var row puzzleRow
	query := `SELECT ` + puzzleColumns + ` FROM puzzles WHERE rating BETWEEN $1 AND $2 ORDER BY random() LIMIT 1`
	err := s.db.GetContext(ctx, &row, query, lo, hi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select random puzzle: %w", err)
	}
	return row.toDomain()
}

func (s *Store) IncrementPlayed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE puzzles SET times_played = times_played + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment times_played: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertSolve(ctx context.Context, sv domain.PuzzleSolve) error {
	if sv.ID == "" {
		sv.ID = uuid.NewString()
	}
	if sv.SolvedAt.IsZero() {
		sv.SolvedAt = time.Now()
	}
	const query = `
		INSERT INTO puzzle_solves (id, user_id, puzzle_id, success, rating_before, rating_after, rating_delta, solved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, query,
		sv.ID, sv.UserID, sv.PuzzleID, sv.Success, sv.RatingBefore, sv.RatingAfter, sv.RatingDelta, sv.SolvedAt); err != nil {
		return fmt.Errorf("insert puzzle solve: %w", err)
	}
	return nil
}

func (s *Store) SolveStats(ctx context.Context, userID string) (domain.SolveStats, error) {
	var stats domain.SolveStats
	var agg struct {
		Total   int           `db:"total"`
		Solved  int           `db:"solved"`
		Highest sql.NullInt64 `db:"highest"`
	}
	const query = `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE s.success) AS solved,
			MAX(p.rating) FILTER (WHERE s.success) AS highest
		FROM puzzle_solves s
		JOIN puzzles p ON p.id = s.puzzle_id
		WHERE s.user_id = $1 AND s.rating_delta <> 0`
	if err := s.db.GetContext(ctx, &agg, query, userID); err != nil {
		return stats, fmt.Errorf("solve stats: %w", err)
	}
	stats.Total = agg.Total
	stats.Solved = agg.Solved
	stats.Failed = agg.Total - agg.Solved
	stats.HighestSolvedRating = int(agg.Highest.Int64)
	if stats.Total > 0 {
		stats.SolvePercentage = math.Round(float64(stats.Solved)/float64(stats.Total)*10000) / 100
	}
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return stats, err
	}
	stats.CurrentRating = p.Rating(domain.PuzzleCategory)
	return stats, nil
}

// InsertPuzzle upserts a puzzle, used by seeding tools.
func (s *Store) InsertPuzzle(ctx context.Context, p domain.Puzzle) error {
	moves, err := json.Marshal(nonNil(p.Moves))
	if err != nil {
		return err
	}
	themes, err := json.Marshal(nonNil(p.Themes))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO puzzles (id, fen, moves, rating, deviation, popularity, themes, game_url)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (id) DO UPDATE SET
			fen = EXCLUDED.fen, moves = EXCLUDED.moves, rating = EXCLUDED.rating,
			deviation = EXCLUDED.deviation, popularity = EXCLUDED.popularity,
			themes = EXCLUDED.themes, game_url = EXCLUDED.game_url`
	if _, err := s.db.ExecContext(ctx, query,
		p.ID, p.FEN, moves, p.Rating, p.Deviation, p.Popularity, themes, p.GameURL); err != nil {
		return fmt.Errorf("insert puzzle: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
