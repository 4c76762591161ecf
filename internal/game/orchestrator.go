// Package game runs live games: admission, moves, clocks, draws, and the
// one-way finalize into durable storage.
package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Connections is the gameplay registry as used by the orchestrator.
type Connections interface {
	Connect(key registry.GameKey, conn registry.Conn) registry.Conn
	Release(key registry.GameKey, conn registry.Conn) bool
	Connected(gameID, userID string) bool
	Deliver(key registry.GameKey, msg any) (delivered, dropped bool)
	BroadcastToGame(gameID string, msg any) []string
}

// FinalizeQueue keeps finalize records that durable storage rejected.
type FinalizeQueue interface {
	Push(ctx context.Context, f store.FinalizedGame) error
}

// Notifier is told about every game that was persisted.
type Notifier interface {
	GameOver(ctx context.Context, f store.FinalizedGame) error
}

type Config struct {
	Sessions *session.Store
	Conns    Connections
	Games    store.GameRepository
	Profiles store.ProfileRepository

	// Optional collaborators.
	Outbox   FinalizeQueue
	Notifier Notifier

	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

type Orchestrator struct {
	sessions *session.Store
	conns    Connections
	games    store.GameRepository
	profiles store.ProfileRepository
	outbox   FinalizeQueue
	notifier Notifier
	clock    clock.Engine
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*gameLock
}

var _ matchmaking.Creator = (*Orchestrator)(nil)

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("game: session store is required")
	}
	if cfg.Conns == nil {
		return nil, errors.New("game: connection registry is required")
	}
	if cfg.Games == nil || cfg.Profiles == nil {
		return nil, errors.New("game: game and profile repositories are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Orchestrator{
		sessions: cfg.Sessions,
		conns:    cfg.Conns,
		games:    cfg.Games,
		profiles: cfg.Profiles,
		outbox:   cfg.Outbox,
		notifier: cfg.Notifier,
		clock:    clock.New(cfg.Now),
		now:      cfg.Now,
		newID:    cfg.NewID,
		logger:   obslog.Or(cfg.Logger),
		locks:    make(map[string]*gameLock),
	}, nil
}

// lock serializes every transition of one game. Different games never share a lock.
func (o *Orchestrator) lock(gameID string) func() {
	o.mu.Lock()
	l, ok := o.locks[gameID]
	if !ok {
		l = &gameLock{}
		o.locks[gameID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, gameID)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) load(gameID string) (*session.GameSession, error) {
	s, err := o.sessions.Get(gameID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return s, err
}

// CreateSession persists a new game for a matched pair and opens its live
// session with full clocks at the start position.
func (o *Orchestrator) CreateSession(ctx context.Context, white, black matchmaking.QueuedPlayer, tc domain.TimeControl) (string, error) {
	whiteProfile, err := o.profiles.GetProfile(ctx, white.UserID)
	if err != nil {
		return "", fmt.Errorf("load profile %s: %w", white.UserID, err)
	}
	blackProfile, err := o.profiles.GetProfile(ctx, black.UserID)
	if err != nil {
		return "", fmt.Errorf("load profile %s: %w", black.UserID, err)
	}

	id := o.newID()
	now := o.now()
	s := &session.GameSession{
		GameID:       id,
		WhiteID:      white.UserID,
		BlackID:      black.UserID,
		TimeControl:  tc.Key,
		Category:     tc.Category,
		CurrentFEN:   rules.StartFEN,
		Turn:         domain.White,
		InitialTime:  tc.Initial,
		Increment:    tc.Increment,
		WhiteTime:    tc.Initial,
		BlackTime:    tc.Initial,
		MovesSAN:     []string{},
		MovesUCI:     []string{},
		Disconnected: []string{},
		Status:       domain.StatusActive,
		WhiteRating:  whiteProfile.Rating(tc.Category),
		BlackRating:  blackProfile.Rating(tc.Category),
		StartedAt:    now,
	}

	err = o.games.CreateGame(ctx, store.NewGame{
		ID:          id,
		WhiteID:     s.WhiteID,
		BlackID:     s.BlackID,
		TimeControl: tc.Key,
		Category:    tc.Category,
		InitialFEN:  rules.StartFEN,
		WhiteRating: s.WhiteRating,
		BlackRating: s.BlackRating,
		StartTime:   now,
	})
	if err != nil {
		return "", fmt.Errorf("create game: %w", err)
	}
	if err := o.sessions.Save(s); err != nil {
		return "", err
	}
	o.logger.Info("game_created",
		zap.String("game_id", id),
		zap.String("white", s.WhiteID),
		zap.String("black", s.BlackID),
		zap.String("time_control", tc.Key),
	)
	return id, nil
}

// Join admits a participant's gameplay connection. A participant returning
// after a disconnect is taken off the disconnected set; the game resumes
// once nobody is missing.
func (o *Orchestrator) Join(ctx context.Context, gameID, userID string, conn registry.Conn) error {
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	color, ok := s.ColorOf(userID)
	if !ok {
		return ErrNotParticipant
	}

	key := registry.GameKey{GameID: gameID, UserID: userID}
	if prev := o.conns.Connect(key, conn); prev != nil && prev != conn {
		prev.Close(registry.CloseGoingAway, "replaced by a newer connection")
	}

	if !s.Active() {
		o.conns.Deliver(key, gameOverMessage(s))
		return nil
	}

	if s.IsDisconnected(userID) {
		s.Disconnected = slices.DeleteFunc(s.Disconnected, func(u string) bool { return u == userID })
		if len(s.Disconnected) == 0 {
			s.Paused = false
			o.clock.Resume(s)
		}
		if err := o.sessions.Save(s); err != nil {
			return err
		}
		o.logger.Info("player_reconnected",
			zap.String("game_id", gameID),
			zap.String("user_id", userID),
			zap.Bool("paused", s.Paused),
		)

		var dropped []string
		if _, d := o.conns.Deliver(key, arenadto.Reconnected{Type: arenadto.TypeReconnected, Message: "welcome back"}); d {
			dropped = append(dropped, userID)
		}
		opp := registry.GameKey{GameID: gameID, UserID: s.Opponent(userID)}
		if _, d := o.conns.Deliver(opp, arenadto.OpponentReconnected{Type: arenadto.TypeOpponentReconnected, UserID: userID}); d {
			dropped = append(dropped, opp.UserID)
		}
		if len(dropped) > 0 {
			return o.markDisconnected(s, dropped)
		}
	}

	if !o.conns.Connected(gameID, s.Opponent(userID)) {
		o.deliver(s, userID, arenadto.Envelope{Type: arenadto.TypeWaitingForOpponent})
		return nil
	}

	var dropped []string
	for _, c := range []domain.Color{color, color.Opposite()} {
		msg := arenadto.GameStart{
			Type:            arenadto.TypeGameStart,
			GameID:          gameID,
			InitialPosition: s.CurrentFEN,
			Color:           string(c),
			YourTime:        s.Remaining(c),
			OpponentTime:    s.Remaining(c.Opposite()),
		}
		if _, d := o.conns.Deliver(registry.GameKey{GameID: gameID, UserID: s.PlayerOf(c)}, msg); d {
			dropped = append(dropped, s.PlayerOf(c))
		}
	}
	if len(dropped) > 0 {
		return o.markDisconnected(s, dropped)
	}
	return nil
}

// Leave records that conn went away. Only the currently registered
// connection of a participant pauses the game.
func (o *Orchestrator) Leave(gameID, userID string, conn registry.Conn) {
	if !o.conns.Release(registry.GameKey{GameID: gameID, UserID: userID}, conn) {
		return
	}
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil || !s.Active() {
		return
	}
	if _, ok := s.ColorOf(userID); !ok {
		return
	}
	if err := o.markDisconnected(s, []string{userID}); err != nil {
		o.logger.Warn("leave_save_failed", zap.String("game_id", gameID), zap.Error(err))
	}
}

// markDisconnected pauses s and adds users to its disconnected set.
func (o *Orchestrator) markDisconnected(s *session.GameSession, users []string) error {
	if !s.Active() {
		return nil
	}
	for _, u := range users {
		if !s.IsDisconnected(u) {
			s.Disconnected = append(s.Disconnected, u)
		}
		o.logger.Info("player_disconnected", zap.String("game_id", s.GameID), zap.String("user_id", u))
	}
	s.Paused = true
	o.clock.Pause(s)
	return o.sessions.Save(s)
}

// deliver sends msg to one participant and records a dropped connection.
func (o *Orchestrator) deliver(s *session.GameSession, userID string, msg any) {
	if _, dropped := o.conns.Deliver(registry.GameKey{GameID: s.GameID, UserID: userID}, msg); dropped {
		if err := o.markDisconnected(s, []string{userID}); err != nil {
			o.logger.Warn("disconnect_save_failed", zap.String("game_id", s.GameID), zap.Error(err))
		}
	}
}

// broadcast sends msg to both participants after s has been saved.
func (o *Orchestrator) broadcast(s *session.GameSession, msg any) {
	if dropped := o.conns.BroadcastToGame(s.GameID, msg); len(dropped) > 0 {
		if err := o.markDisconnected(s, dropped); err != nil {
			o.logger.Warn("disconnect_save_failed", zap.String("game_id", s.GameID), zap.Error(err))
		}
	}
}

// SubmitMove validates and applies a move by userID. A mover whose clock has
// run out loses on time instead.
func (o *Orchestrator) SubmitMove(ctx context.Context, gameID, userID, uci string) error {
	if strings.TrimSpace(uci) == "" {
		return ErrMissingMove
	}
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	color, ok := s.ColorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if !s.Active() {
		return ErrNotActive
	}
	if s.Paused || len(s.Disconnected) > 0 {
		return ErrPaused
	}
	if color != s.Turn {
		// An off-turn attempt still settles a flag that has already fallen.
		if loser, out := o.clock.PeekTimeout(s); out {
			return o.flag(ctx, s, loser)
		}
		return ErrNotYourTurn
	}

	board, err := rules.Replay(s.MovesUCI)
	if err != nil {
		return fmt.Errorf("replay %s: %w", gameID, err)
	}
	if err := board.Validate(uci); err != nil {
		return err
	}

	if loser, out := o.clock.Tick(s); out {
		return o.flag(ctx, s, loser)
	}

	applied, err := board.Apply(uci)
	if err != nil {
		return err
	}
	o.clock.ApplyIncrement(s)
	now := o.now()
	s.LastMoveAt = &now
	s.CurrentFEN = applied.FEN
	s.Turn = s.Turn.Opposite()
	s.MovesUCI = append(s.MovesUCI, applied.UCI)
	s.MovesSAN = append(s.MovesSAN, applied.SAN)
	s.DrawOfferBy = ""
	if eco, title := board.Opening(); title != "" {
		s.Opening = strings.TrimSpace(eco + " " + title)
	}
	if err := o.sessions.Save(s); err != nil {
		return err
	}

	o.logger.Debug("move_applied",
		zap.String("game_id", gameID),
		zap.String("uci", applied.UCI),
		zap.String("san", applied.SAN),
		zap.Int("ply", len(s.MovesUCI)),
	)
	o.broadcast(s, arenadto.MoveMade{
		Type:      arenadto.TypeMoveMade,
		UCI:       applied.UCI,
		SAN:       applied.SAN,
		Position:  applied.FEN,
		Turn:      string(s.Turn),
		WhiteTime: s.WhiteTime,
		BlackTime: s.BlackTime,
	})

	if termination, result, over := board.Terminal(); over {
		return o.finalize(ctx, s, result, termination)
	}
	return nil
}

// Resign ends the game in favor of userID's opponent.
func (o *Orchestrator) Resign(ctx context.Context, gameID, userID string) error {
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	color, ok := s.ColorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if !s.Active() {
		return ErrNotActive
	}
	return o.finalize(ctx, s, domain.WinFor(color.Opposite()), domain.Resignation)
}

// OfferDraw records a pending offer and notifies the opponent only.
func (o *Orchestrator) OfferDraw(ctx context.Context, gameID, userID string) error {
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	if _, ok := s.ColorOf(userID); !ok {
		return ErrNotParticipant
	}
	if !s.Active() {
		return ErrNotActive
	}
	s.DrawOfferBy = userID
	if err := o.sessions.Save(s); err != nil {
		return err
	}
	o.deliver(s, s.Opponent(userID), arenadto.DrawOffer{Type: arenadto.TypeDrawOffer, From: userID})
	return nil
}

// AcceptDraw ends the game drawn when the opponent of userID has an offer pending.
func (o *Orchestrator) AcceptDraw(ctx context.Context, gameID, userID string) error {
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	if _, ok := s.ColorOf(userID); !ok {
		return ErrNotParticipant
	}
	if !s.Active() {
		return ErrNotActive
	}
	if s.DrawOfferBy == "" || s.DrawOfferBy == userID {
		return ErrNoDrawOffer
	}
	return o.finalize(ctx, s, domain.ResultDraw, domain.DrawAgreement)
}

// DeclineDraw clears the opponent's pending offer and tells them.
func (o *Orchestrator) DeclineDraw(ctx context.Context, gameID, userID string) error {
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	if _, ok := s.ColorOf(userID); !ok {
		return ErrNotParticipant
	}
	if !s.Active() {
		return ErrNotActive
	}
	if s.DrawOfferBy == "" || s.DrawOfferBy == userID {
		return ErrNoDrawOffer
	}
	offeredBy := s.DrawOfferBy
	s.DrawOfferBy = ""
	if err := o.sessions.Save(s); err != nil {
		return err
	}
	o.deliver(s, offeredBy, arenadto.DrawOfferDeclined{Type: arenadto.TypeDrawOfferDeclined, From: userID})
	return nil
}

// CheckTimeout ends the game if the side to move has run out of time. It
// does nothing while the game is paused. It reports whether the game ended.
func (o *Orchestrator) CheckTimeout(ctx context.Context, gameID string) (bool, error) {
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return false, err
	}
	if !s.Active() || s.Paused || len(s.Disconnected) > 0 {
		return false, nil
	}
	loser, out := o.clock.PeekTimeout(s)
	if !out {
		return false, nil
	}
	return true, o.flag(ctx, s, loser)
}

// flag ends s on time against loser. The caller holds the game lock.
func (o *Orchestrator) flag(ctx context.Context, s *session.GameSession, loser domain.Color) error {
	if loser == domain.White {
		s.WhiteTime = 0
	} else {
		s.BlackTime = 0
	}
	return o.finalize(ctx, s, domain.WinFor(loser.Opposite()), domain.Timeout)
}

// SweepTimeouts runs CheckTimeout over every active session.
func (o *Orchestrator) SweepTimeouts(ctx context.Context) int {
	ended := 0
	for _, id := range o.sessions.Active() {
		if ctx.Err() != nil {
			break
		}
		over, err := o.CheckTimeout(ctx, id)
		if err != nil && !errors.Is(err, ErrGameNotFound) {
			o.logger.Warn("timeout_sweep_failed", zap.String("game_id", id), zap.Error(err))
		}
		if over {
			ended++
		}
	}
	return ended
}

// RunTimeoutSweep calls SweepTimeouts on every tick until ctx is done.
func (o *Orchestrator) RunTimeoutSweep(ctx context.Context, interval time.Duration) {
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
			if n := o.SweepTimeouts(ctx); n > 0 {
				o.logger.Info("timeout_sweep", zap.Int("ended", n))
			}
		}
	}
}

// Chat relays a trimmed message from a participant to both sides.
func (o *Orchestrator) Chat(ctx context.Context, gameID, userID, username, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyChat
	}
	unlock := o.lock(gameID)
	defer unlock()

	s, err := o.load(gameID)
	if err != nil {
		return err
	}
	if _, ok := s.ColorOf(userID); !ok {
		return ErrNotParticipant
	}
	if !s.Active() {
		return ErrNotActive
	}
	from := strings.TrimSpace(username)
	if from == "" {
		from = userID
	}
	o.broadcast(s, arenadto.ChatMessage{
		Type:      arenadto.TypeChatMessage,
		From:      from,
		Message:   message,
		Timestamp: o.now().UTC(),
	})
	return nil
}

// Snapshot returns a copy of the live session.
func (o *Orchestrator) Snapshot(gameID string) (*session.GameSession, error) {
	return o.load(gameID)
}

func gameOverMessage(s *session.GameSession) arenadto.GameOver {
	return arenadto.GameOver{
		Type:        arenadto.TypeGameOver,
		Result:      string(s.Result),
		Termination: string(s.Status),
	}
}
