package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

var ErrInvalidArgs = errors.New("invalid arguments")

// QueuedPlayer is one waiting entry. Order in the lane is pairing priority.
type QueuedPlayer struct {
	UserID      string
	Rating      int
	TimeControl string
	Category    string
	EnqueuedAt  time.Time
}

// Creator allocates a live game for a pair. The first player plays white.
type Creator interface {
	CreateSession(ctx context.Context, white, black QueuedPlayer, tc domain.TimeControl) (string, error)
}

// Connections is the matchmaking-scoped registry as seen by the queue.
type Connections interface {
	Get(userID string) (registry.Conn, bool)
	Send(userID string, msg any) bool
	Disconnect(userID string)
}

type Config struct {
	TimeControls *domain.TimeControls
	Creator      Creator
	Conns        Connections
	Now          func() time.Time
	Logger       *zap.Logger
}

type lane struct {
	mu      sync.Mutex
	players []QueuedPlayer
}

// Queue pairs waiting players per time control. Each time control has its own
// lane and lock; different lanes never contend.
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane

	tcs     *domain.TimeControls
	creator Creator
	conns   Connections
	now     func() time.Time
	logger  *zap.Logger
}

func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Creator == nil {
		return nil, fmt.Errorf("matchmaking: creator is required")
	}
	if cfg.Conns == nil {
		return nil, fmt.Errorf("matchmaking: connection registry is required")
	}
	if cfg.TimeControls == nil {
		tcs, err := domain.NewTimeControls(nil)
		if err != nil {
			return nil, err
		}
		cfg.TimeControls = tcs
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		lanes:   make(map[string]*lane),
		tcs:     cfg.TimeControls,
		creator: cfg.Creator,
		conns:   cfg.Conns,
		now:     cfg.Now,
		logger:  obslog.Or(cfg.Logger),
	}, nil
}

func (q *Queue) lane(key string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	return l
}

// Enqueue tries to pair p with the oldest live waiting player of the same
// time control. On success both sides get match_found and leave the
// matchmaking registry; otherwise p waits at the back of the lane.
func (q *Queue) Enqueue(ctx context.Context, p QueuedPlayer) (string, bool, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", false, ErrInvalidArgs
	}
	tc, err := q.tcs.Lookup(p.TimeControl, p.Category)
	if err != nil {
		return "", false, err
	}
	p.TimeControl, p.Category = tc.Key, tc.Category
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = q.now()
	}

	l := q.lane(tc.Key)
	l.mu.Lock()

	var (
		opponent *QueuedPlayer
		selfHeld []QueuedPlayer
	)
	for len(l.players) > 0 {
		cand := l.players[0]
		l.players = l.players[1:]
		if cand.UserID == p.UserID {
			selfHeld = append(selfHeld, cand)
			continue
		}
		if _, live := q.conns.Get(cand.UserID); !live {
			q.logger.Info("matchmaking_stale_dropped",
				zap.String("user_id", cand.UserID),
				zap.String("time_control", tc.Key),
			)
			continue
		}
		opponent = &cand
		break
	}

	if opponent == nil {
		if len(selfHeld) > 0 {
			// Already waiting; keep the original entry and position.
			l.players = append(selfHeld[:1], l.players...)
		} else {
			l.players = append(l.players, p)
		}
		waiting := len(l.players)
		l.mu.Unlock()

		q.conns.Send(p.UserID, arenadto.WaitingForMatch{Type: arenadto.TypeWaitingForMatch, TimeControl: tc.Key})
		q.logger.Debug("matchmaking_waiting",
			zap.String("user_id", p.UserID),
			zap.String("time_control", tc.Key),
			zap.Int("queue_len", waiting),
		)
		return "", false, nil
	}

	// The player is being paired, so no entry of theirs may linger.
	l.players = withoutUser(l.players, p.UserID)

	gameID, err := q.creator.CreateSession(ctx, *opponent, p, tc)
	if err != nil {
		// Restore the lane as it was: an earlier entry of the player sat ahead of the opponent.
		restored := make([]QueuedPlayer, 0, len(l.players)+2)
		restored = append(restored, selfHeld[:min(len(selfHeld), 1)]...)
		restored = append(restored, *opponent)
		l.players = append(restored, l.players...)
		l.mu.Unlock()
		q.logger.Error("matchmaking_create_failed",
			zap.String("white_id", opponent.UserID),
			zap.String("black_id", p.UserID),
			zap.Error(err),
		)
		return "", false, fmt.Errorf("create session: %w", err)
	}
	l.mu.Unlock()

	q.conns.Send(opponent.UserID, arenadto.MatchFound{Type: arenadto.TypeMatchFound, GameID: gameID, Color: string(domain.White)})
	q.conns.Send(p.UserID, arenadto.MatchFound{Type: arenadto.TypeMatchFound, GameID: gameID, Color: string(domain.Black)})
	q.conns.Disconnect(opponent.UserID)
	q.conns.Disconnect(p.UserID)

	q.logger.Info("matchmaking_paired",
		zap.String("game_id", gameID),
		zap.String("white_id", opponent.UserID),
		zap.String("black_id", p.UserID),
		zap.String("time_control", tc.Key),
		zap.Duration("white_waited", q.now().Sub(opponent.EnqueuedAt)),
	)
	return gameID, true, nil
}

// Cancel removes every entry of userID from the lane of timeControl.
func (q *Queue) Cancel(userID, timeControl string) {
	q.mu.Lock()
	l, ok := q.lanes[strings.TrimSpace(timeControl)]
	q.mu.Unlock()
	if !ok {
		return
	}
	l.mu.Lock()
	l.players = withoutUser(l.players, userID)
	l.mu.Unlock()
}

// CancelAll removes userID from every lane.
func (q *Queue) CancelAll(userID string) {
	q.mu.Lock()
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		lanes = append(lanes, l)
	}
	q.mu.Unlock()
	for _, l := range lanes {
		l.mu.Lock()
		l.players = withoutUser(l.players, userID)
		l.mu.Unlock()
	}
}

// Len returns the number of entries waiting for timeControl.
func (q *Queue) Len(timeControl string) int {
	q.mu.Lock()
	l, ok := q.lanes[strings.TrimSpace(timeControl)]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.players)
}

func withoutUser(players []QueuedPlayer, userID string) []QueuedPlayer {
	out := players[:0]
	for _, p := range players {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}
