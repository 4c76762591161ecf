package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type recordingConn struct {
	mu   sync.Mutex
	msgs []any
}

func (c *recordingConn) Send(msg any) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Close(int, string) {}

func (c *recordingConn) last() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return nil
	}
	return c.msgs[len(c.msgs)-1]
}

type fakeCreator struct {
	mu    sync.Mutex
	pairs [][2]string
	err   error
}

func (f *fakeCreator) CreateSession(_ context.Context, white, black QueuedPlayer, tc domain.TimeControl) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.pairs = append(f.pairs, [2]string{white.UserID, black.UserID})
	return fmt.Sprintf("game-%d", len(f.pairs)), nil
}

func newTestQueue(t *testing.T) (*Queue, *registry.Registry[string], *fakeCreator) {
	t.Helper()
	reg := registry.New[string]("matchmaking", zap.NewNop())
	creator := &fakeCreator{}
	q, err := NewQueue(Config{Creator: creator, Conns: reg, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, reg, creator
}

func join(reg *registry.Registry[string], user string) *recordingConn {
	c := &recordingConn{}
	reg.Connect(user, c)
	return c
}

func TestTwoPlayersPair(t *testing.T) {
	q, reg, creator := newTestQueue(t)
	alice := join(reg, "alice")
	bob := join(reg, "bob")
	ctx := context.Background()

	if _, matched, err := q.Enqueue(ctx, QueuedPlayer{UserID: "alice", TimeControl: "5+0"}); err != nil || matched {
		t.Fatalf("first enqueue: matched=%v err=%v", matched, err)
	}
	if msg, ok := alice.last().(arenadto.WaitingForMatch); !ok || msg.TimeControl != "5+0" {
		t.Fatalf("alice should be told to wait, got %#v", alice.last())
	}

	gameID, matched, err := q.Enqueue(ctx, QueuedPlayer{UserID: "bob", TimeControl: "5+0"})
	if err != nil || !matched || gameID == "" {
		t.Fatalf("second enqueue: id=%q matched=%v err=%v", gameID, matched, err)
	}
	for name, c := range map[string]*recordingConn{"alice": alice, "bob": bob} {
		mf, ok := c.last().(arenadto.MatchFound)
		if !ok || mf.GameID != gameID {
			t.Fatalf("%s did not receive match_found for %s: %#v", name, gameID, c.last())
		}
	}
	if creator.pairs[0] != [2]string{"alice", "bob"} {
		t.Fatalf("earliest waiting player should be white: %v", creator.pairs[0])
	}
	if reg.Len() != 0 {
		t.Fatalf("paired players should leave the matchmaking registry")
	}
	if q.Len("5+0") != 0 {
		t.Fatalf("queue should be empty after pairing")
	}
}

func TestSelfPairingExcluded(t *testing.T) {
	q, reg, creator := newTestQueue(t)
	join(reg, "alice")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, matched, err := q.Enqueue(ctx, QueuedPlayer{UserID: "alice", TimeControl: "3+2"}); err != nil || matched {
			t.Fatalf("enqueue %d: matched=%v err=%v", i, matched, err)
		}
	}
	if len(creator.pairs) != 0 {
		t.Fatalf("player paired with themselves: %v", creator.pairs)
	}
	if got := q.Len("3+2"); got != 1 {
		t.Fatalf("self should hold one entry, got %d", got)
	}
}

func TestStaleCandidatesDropped(t *testing.T) {
	q, reg, creator := newTestQueue(t)
	ctx := context.Background()
	join(reg, "ghost")
	if _, _, err := q.Enqueue(ctx, QueuedPlayer{UserID: "ghost", TimeControl: "1+0"}); err != nil {
		t.Fatalf("enqueue ghost: %v", err)
	}
	reg.Disconnect("ghost")

	join(reg, "bob")
	if _, matched, _ := q.Enqueue(ctx, QueuedPlayer{UserID: "bob", TimeControl: "1+0"}); matched {
		t.Fatalf("stale entry must not be paired")
	}
	if len(creator.pairs) != 0 {
		t.Fatalf("unexpected pair %v", creator.pairs)
	}
	if got := q.Len("1+0"); got != 1 {
		t.Fatalf("stale entry should be dropped and bob queued, len=%d", got)
	}
}

func TestLanesAreIndependent(t *testing.T) {
	q, reg, _ := newTestQueue(t)
	ctx := context.Background()
	join(reg, "alice")
	join(reg, "bob")
	q.Enqueue(ctx, QueuedPlayer{UserID: "alice", TimeControl: "5+0"})
	if _, matched, _ := q.Enqueue(ctx, QueuedPlayer{UserID: "bob", TimeControl: "10+0"}); matched {
		t.Fatalf("different time controls must not pair")
	}
}

func TestCancel(t *testing.T) {
	q, reg, _ := newTestQueue(t)
	ctx := context.Background()
	q.Cancel("nobody", "5+0")

	join(reg, "alice")
	q.Enqueue(ctx, QueuedPlayer{UserID: "alice", TimeControl: "5+0"})
	q.Cancel("alice", "5+0")
	q.Cancel("alice", "5+0")
	if q.Len("5+0") != 0 {
		t.Fatalf("cancel should remove alice")
	}
}

func TestInvalidTimeControl(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, _, err := q.Enqueue(context.Background(), QueuedPlayer{UserID: "alice", TimeControl: "7+7"})
	if !errors.Is(err, domain.ErrInvalidTimeControl) {
		t.Fatalf("expected ErrInvalidTimeControl, got %v", err)
	}
}

func TestCreateFailureRequeuesCandidate(t *testing.T) {
	q, reg, creator := newTestQueue(t)
	ctx := context.Background()
	join(reg, "alice")
	join(reg, "bob")
	q.Enqueue(ctx, QueuedPlayer{UserID: "alice", TimeControl: "5+0"})

	creator.err = errors.New("db down")
	if _, _, err := q.Enqueue(ctx, QueuedPlayer{UserID: "bob", TimeControl: "5+0"}); err == nil {
		t.Fatalf("expected create error")
	}
	if q.Len("5+0") != 1 {
		t.Fatalf("candidate should be back in the lane")
	}

	creator.err = nil
	if _, matched, err := q.Enqueue(ctx, QueuedPlayer{UserID: "bob", TimeControl: "5+0"}); err != nil || !matched {
		t.Fatalf("retry should pair: matched=%v err=%v", matched, err)
	}
}

func TestCreateFailureKeepsEarlierEntry(t *testing.T) {
	q, reg, creator := newTestQueue(t)
	ctx := context.Background()
	join(reg, "alice")
	join(reg, "bob")

	l := q.lane("5+0")
	l.mu.Lock()
	l.players = []QueuedPlayer{
		{UserID: "alice", TimeControl: "5+0"},
		{UserID: "bob", TimeControl: "5+0"},
	}
	l.mu.Unlock()

	creator.err = errors.New("db down")
	if _, _, err := q.Enqueue(ctx, QueuedPlayer{UserID: "alice", TimeControl: "5+0"}); err == nil {
		t.Fatalf("expected create error")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.players) != 2 || l.players[0].UserID != "alice" || l.players[1].UserID != "bob" {
		t.Fatalf("lane after failed pairing = %+v", l.players)
	}
}

func TestConcurrentJoinsPairEveryone(t *testing.T) {
	q, reg, creator := newTestQueue(t)
	ctx := context.Background()
	const n = 40
	for i := 0; i < n; i++ {
		join(reg, fmt.Sprintf("u%d", i))
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(ctx, QueuedPlayer{UserID: fmt.Sprintf("u%d", i), TimeControl: "3+0"})
		}(i)
	}
	wg.Wait()

	if len(creator.pairs) != n/2 {
		t.Fatalf("pairs = %d, want %d", len(creator.pairs), n/2)
	}
	seen := make(map[string]bool)
	for _, p := range creator.pairs {
		for _, u := range p {
			if seen[u] {
				t.Fatalf("%s paired twice", u)
			}
			seen[u] = true
		}
	}
}
