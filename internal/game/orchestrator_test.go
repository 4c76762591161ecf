package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	msgs   []any
	fail   bool
	closed bool
}

func (r *recorder) Send(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail || r.closed {
		return errors.New("broken pipe")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) Close(code int, reason string) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

func lastOf[T any](r *recorder) (T, bool) {
	msgs := r.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(T); ok {
			return m, true
		}
	}
	var zero T
	return zero, false
}

func countOf[T any](r *recorder) int {
	n := 0
	for _, m := range r.all() {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

type failingGames struct {
	*memstore.Store
}

func (f failingGames) FinalizeGame(ctx context.Context, g store.FinalizedGame) error {
	return errors.New("database unavailable")
}

type memOutbox struct {
	mu      sync.Mutex
	records []store.FinalizedGame
}

func (m *memOutbox) Push(ctx context.Context, f store.FinalizedGame) error {
	m.mu.Lock()
	m.records = append(m.records, f)
	m.mu.Unlock()
	return nil
}

type harness struct {
	o        *Orchestrator
	db       *memstore.Store
	conns    *registry.GameRegistry
	sessions *session.Store
	clk      *fakeClock
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		db:    memstore.New(),
		conns: registry.NewGameRegistry(zap.NewNop()),
		clk:   clk,
	}
	h.sessions = session.NewStore(session.Config{Now: clk.Now, Logger: zap.NewNop()})
	cfg := Config{
		Sessions: h.sessions,
		Conns:    h.conns,
		Games:    h.db,
		Profiles: h.db,
		Now:      clk.Now,
		Logger:   zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.o = o
	return h
}

// start creates alice (white) vs bob (black) and connects both.
func (h *harness) start(t *testing.T, tcKey string) (string, *recorder, *recorder) {
	t.Helper()
	tc, err := domain.ParseTimeControl(tcKey)
	if err != nil {
		t.Fatalf("parse time control: %v", err)
	}
	ctx := context.Background()
	id, err := h.o.CreateSession(ctx,
		matchmaking.QueuedPlayer{UserID: "alice"},
		matchmaking.QueuedPlayer{UserID: "bob"},
		tc,
	)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	w, b := &recorder{}, &recorder{}
	if err := h.o.Join(ctx, id, "alice", w); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.o.Join(ctx, id, "bob", b); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	return id, w, b
}

func (h *harness) move(t *testing.T, id, user, uci string) {
	t.Helper()
	if err := h.o.SubmitMove(context.Background(), id, user, uci); err != nil {
		t.Fatalf("move %s by %s: %v", uci, user, err)
	}
}

func TestMatchmakingPairsIntoLiveGame(t *testing.T) {
	h := newHarness(t, nil)
	lobby := registry.New[string]("matchmaking", zap.NewNop())
	q, err := matchmaking.NewQueue(matchmaking.Config{Creator: h.o, Conns: lobby, Now: h.clk.Now, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	a, b := &recorder{}, &recorder{}
	lobby.Connect("alice", a)
	lobby.Connect("bob", b)

	ctx := context.Background()
	if _, matched, err := q.Enqueue(ctx, matchmaking.QueuedPlayer{UserID: "alice", TimeControl: "5+0", Category: "blitz"}); err != nil || matched {
		t.Fatalf("first enqueue matched=%v err=%v", matched, err)
	}
	id, matched, err := q.Enqueue(ctx, matchmaking.QueuedPlayer{UserID: "bob", TimeControl: "5+0", Category: "blitz"})
	if err != nil || !matched || id == "" {
		t.Fatalf("second enqueue id=%q matched=%v err=%v", id, matched, err)
	}
	for name, r := range map[string]*recorder{"alice": a, "bob": b} {
		mf, ok := lastOf[arenadto.MatchFound](r)
		if !ok || mf.GameID != id {
			t.Fatalf("%s match_found = %+v", name, mf)
		}
	}
	s, err := h.o.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.WhiteID != "alice" || s.WhiteTime != 300 || s.Category != "blitz" {
		t.Fatalf("session = %+v", s)
	}
	if _, err := h.db.GetGame(ctx, id); err != nil {
		t.Fatalf("persisted game missing: %v", err)
	}
}

func TestJoinSendsGameStartWhenBothConnected(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "5+0")

	if _, ok := lastOf[arenadto.Envelope](w); !ok {
		t.Fatalf("first joiner should wait for opponent")
	}
	ws, ok := lastOf[arenadto.GameStart](w)
	if !ok || ws.Color != "white" || ws.YourTime != 300 || ws.GameID != id {
		t.Fatalf("white game_start = %+v", ws)
	}
	bs, ok := lastOf[arenadto.GameStart](b)
	if !ok || bs.Color != "black" || bs.InitialPosition == "" {
		t.Fatalf("black game_start = %+v", bs)
	}
}

func TestJoinAdmission(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.start(t, "5+0")
	ctx := context.Background()

	if err := h.o.Join(ctx, "nope", "alice", &recorder{}); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("expected game not found, got %v", err)
	}
	if err := h.o.Join(ctx, id, "mallory", &recorder{}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}
}

func TestFirstMoveWithIncrement(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "3+2")
	h.clk.Advance(3 * time.Second)

	h.move(t, id, "alice", "e2e4")

	for _, r := range []*recorder{w, b} {
		mm, ok := lastOf[arenadto.MoveMade](r)
		if !ok {
			t.Fatalf("move_made not delivered")
		}
		if mm.SAN != "e4" || mm.Turn != "black" || mm.UCI != "e2e4" {
			t.Fatalf("move_made = %+v", mm)
		}
		if mm.WhiteTime != 182 || mm.BlackTime != 180 {
			t.Fatalf("clocks = %d/%d", mm.WhiteTime, mm.BlackTime)
		}
	}
	s, _ := h.o.Snapshot(id)
	if len(s.MovesUCI) != 1 || len(s.MovesSAN) != 1 || s.Turn != domain.Black {
		t.Fatalf("session after move = %+v", s)
	}
}

func TestClocksOnlyChargeSideToMove(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.start(t, "5+0")

	h.move(t, id, "alice", "e2e4")
	h.clk.Advance(7 * time.Second)
	h.move(t, id, "bob", "e7e5")
	h.clk.Advance(4 * time.Second)
	h.move(t, id, "alice", "g1f3")

	s, _ := h.o.Snapshot(id)
	if s.WhiteTime != 296 || s.BlackTime != 293 {
		t.Fatalf("clocks = white %d black %d", s.WhiteTime, s.BlackTime)
	}
	if s.Turn != domain.Black || len(s.MovesUCI) != 3 {
		t.Fatalf("turn=%s moves=%d", s.Turn, len(s.MovesUCI))
	}
}

func TestRejectedMovesLeaveSessionUntouched(t *testing.T) {
	h := newHarness(t, nil)
	id, w, _ := h.start(t, "5+0")
	before, _ := h.o.Snapshot(id)
	ctx := context.Background()

	cases := []struct {
		user, uci string
		want      error
	}{
		{"bob", "e7e5", ErrNotYourTurn},
		{"alice", "e2e5", ErrIllegalMove},
		{"alice", "zz", ErrMalformedMove},
		{"alice", "", ErrMissingMove},
		{"mallory", "e2e4", ErrNotParticipant},
	}
	for _, tc := range cases {
		if err := h.o.SubmitMove(ctx, id, tc.user, tc.uci); !errors.Is(err, tc.want) {
			t.Fatalf("move %q by %s: got %v want %v", tc.uci, tc.user, err, tc.want)
		}
	}
	after, _ := h.o.Snapshot(id)
	if after.CurrentFEN != before.CurrentFEN || len(after.MovesUCI) != 0 || after.Turn != domain.White {
		t.Fatalf("session mutated: %+v", after)
	}
	if n := countOf[arenadto.MoveMade](w); n != 0 {
		t.Fatalf("unexpected move_made broadcasts: %d", n)
	}
}

func TestTimeoutOnCheck(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "1+0")
	ctx := context.Background()

	h.move(t, id, "alice", "e2e4")
	h.move(t, id, "bob", "e7e5")
	h.clk.Advance(59 * time.Second)
	if over, err := h.o.CheckTimeout(ctx, id); err != nil || over {
		t.Fatalf("early check over=%v err=%v", over, err)
	}
	h.clk.Advance(2 * time.Second)
	over, err := h.o.CheckTimeout(ctx, id)
	if err != nil || !over {
		t.Fatalf("check over=%v err=%v", over, err)
	}

	for _, r := range []*recorder{w, b} {
		gameOver, ok := lastOf[arenadto.GameOver](r)
		if !ok || gameOver.Termination != "timeout" || gameOver.Result != "black_win" {
			t.Fatalf("game_over = %+v", gameOver)
		}
	}
	g, err := h.db.GetGame(ctx, id)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if g.Termination != domain.Timeout || g.Result != domain.ResultBlackWin || len(g.MovesUCI) != 2 {
		t.Fatalf("persisted = %+v", g)
	}
}

func TestTimeoutOnLateMove(t *testing.T) {
	h := newHarness(t, nil)
	id, _, b := h.start(t, "1+0")
	ctx := context.Background()

	h.move(t, id, "alice", "e2e4")
	h.clk.Advance(61 * time.Second)
	if err := h.o.SubmitMove(ctx, id, "bob", "e7e5"); err != nil {
		t.Fatalf("late move: %v", err)
	}
	gameOver, ok := lastOf[arenadto.GameOver](b)
	if !ok || gameOver.Result != "white_win" || gameOver.Termination != "timeout" {
		t.Fatalf("game_over = %+v", gameOver)
	}
	s, _ := h.o.Snapshot(id)
	if len(s.MovesUCI) != 1 || s.BlackTime != 0 {
		t.Fatalf("late move must not be applied: %+v", s)
	}
}

func TestDisconnectPausesAndReconnectResumes(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "5+0")
	ctx := context.Background()

	h.move(t, id, "alice", "e2e4")
	h.o.Leave(id, "alice", w)

	s, _ := h.o.Snapshot(id)
	if !s.Paused || len(s.Disconnected) != 1 || s.Disconnected[0] != "alice" {
		t.Fatalf("after leave = %+v", s)
	}
	if err := h.o.SubmitMove(ctx, id, "bob", "e7e5"); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if over, _ := h.o.CheckTimeout(ctx, id); over {
		t.Fatalf("paused game must not time out")
	}

	h.clk.Advance(10 * time.Minute)
	w2 := &recorder{}
	if err := h.o.Join(ctx, id, "alice", w2); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if _, ok := lastOf[arenadto.Reconnected](w2); !ok {
		t.Fatalf("reconnected not sent")
	}
	if or, ok := lastOf[arenadto.OpponentReconnected](b); !ok || or.UserID != "alice" {
		t.Fatalf("opponent_reconnected = %+v", or)
	}
	s, _ = h.o.Snapshot(id)
	if s.Paused || len(s.Disconnected) != 0 {
		t.Fatalf("after rejoin = %+v", s)
	}

	h.move(t, id, "bob", "e7e5")
	s, _ = h.o.Snapshot(id)
	if s.BlackTime != 300 {
		t.Fatalf("paused span charged to black: %d", s.BlackTime)
	}
}

func TestStaleLeaveDoesNotPause(t *testing.T) {
	h := newHarness(t, nil)
	id, w, _ := h.start(t, "5+0")
	w2 := &recorder{}
	if err := h.o.Join(context.Background(), id, "alice", w2); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if !w.closed {
		t.Fatalf("replaced connection should be closed")
	}
	h.o.Leave(id, "alice", w)
	s, _ := h.o.Snapshot(id)
	if s.Paused || len(s.Disconnected) != 0 {
		t.Fatalf("stale leave paused the game: %+v", s)
	}
}

func TestBroadcastFailureMarksDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	id, _, b := h.start(t, "5+0")
	b.mu.Lock()
	b.fail = true
	b.mu.Unlock()

	h.move(t, id, "alice", "e2e4")
	s, _ := h.o.Snapshot(id)
	if !s.Paused || !s.IsDisconnected("bob") {
		t.Fatalf("dropped peer not recorded: %+v", s)
	}
	if len(s.MovesUCI) != 1 {
		t.Fatalf("move should still be applied")
	}
}

func TestDrawAgreement(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "5+0")
	ctx := context.Background()

	if err := h.o.AcceptDraw(ctx, id, "bob"); !IsConflict(err) {
		t.Fatalf("accept without offer should conflict, got %v", err)
	}
	if err := h.o.OfferDraw(ctx, id, "alice"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if d, ok := lastOf[arenadto.DrawOffer](b); !ok || d.From != "alice" {
		t.Fatalf("draw_offer to opponent = %+v", d)
	}
	if countOf[arenadto.DrawOffer](w) != 0 {
		t.Fatalf("offerer must not receive its own offer")
	}
	if err := h.o.AcceptDraw(ctx, id, "alice"); !errors.Is(err, ErrNoDrawOffer) {
		t.Fatalf("self accept: %v", err)
	}
	if err := h.o.AcceptDraw(ctx, id, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, r := range []*recorder{w, b} {
		gameOver, ok := lastOf[arenadto.GameOver](r)
		if !ok || gameOver.Result != "draw" || gameOver.Termination != "draw_agreement" {
			t.Fatalf("game_over = %+v", gameOver)
		}
	}
	for _, u := range []string{"alice", "bob"} {
		p, _ := h.db.GetProfile(ctx, u)
		if p.Draws != 1 || p.TotalGames != 1 || p.Rating("blitz") != 1200 {
			t.Fatalf("%s profile = %+v", u, p)
		}
	}
	if err := h.o.Resign(ctx, id, "alice"); !IsConflict(err) {
		t.Fatalf("resign after end should conflict, got %v", err)
	}
	s, err := h.o.Snapshot(id)
	if err != nil || s.Active() {
		t.Fatalf("finished session should stay readable: %+v err=%v", s, err)
	}
}

func TestDeclineDraw(t *testing.T) {
	h := newHarness(t, nil)
	id, w, _ := h.start(t, "5+0")
	ctx := context.Background()

	if err := h.o.OfferDraw(ctx, id, "alice"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := h.o.DeclineDraw(ctx, id, "bob"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if d, ok := lastOf[arenadto.DrawOfferDeclined](w); !ok || d.From != "bob" {
		t.Fatalf("draw_offer_declined = %+v", d)
	}
	s, _ := h.o.Snapshot(id)
	if s.DrawOfferBy != "" {
		t.Fatalf("offer not cleared")
	}
	if err := h.o.DeclineDraw(ctx, id, "bob"); !IsConflict(err) {
		t.Fatalf("second decline should conflict, got %v", err)
	}
}

func TestCheckmateFinalizesWithRatings(t *testing.T) {
	h := newHarness(t, nil)
	id, w, _ := h.start(t, "5+0")
	ctx := context.Background()

	for i, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		h.move(t, id, user, uci)
	}

	gameOver, ok := lastOf[arenadto.GameOver](w)
	if !ok || gameOver.Termination != "checkmate" || gameOver.Result != "black_win" {
		t.Fatalf("game_over = %+v", gameOver)
	}
	s, _ := h.o.Snapshot(id)
	g, err := h.db.GetGame(ctx, id)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if g.FinalFEN != s.CurrentFEN || len(g.MovesUCI) != 4 || g.Result != s.Result {
		t.Fatalf("persisted game diverges from session: %+v vs %+v", g, s)
	}
	if g.WhiteRatingChange != -10 || g.BlackRatingChange != 10 {
		t.Fatalf("deltas = %d/%d", g.WhiteRatingChange, g.BlackRatingChange)
	}
	white, _ := h.db.GetProfile(ctx, "alice")
	black, _ := h.db.GetProfile(ctx, "bob")
	if white.Rating("blitz") != 1190 || white.Losses != 1 || black.Rating("blitz") != 1210 || black.Wins != 1 {
		t.Fatalf("profiles = %+v / %+v", white, black)
	}
	if g.PGN == "" {
		t.Fatalf("pgn missing")
	}
}

func TestFinalizeFailureGoesToOutbox(t *testing.T) {
	box := &memOutbox{}
	var db *memstore.Store
	h := newHarness(t, func(c *Config) {
		db = c.Games.(*memstore.Store)
		c.Games = failingGames{db}
		c.Outbox = box
	})
	id, w, _ := h.start(t, "5+0")

	if err := h.o.Resign(context.Background(), id, "alice"); err != nil {
		t.Fatalf("resign: %v", err)
	}
	if gameOver, ok := lastOf[arenadto.GameOver](w); !ok || gameOver.Result != "black_win" {
		t.Fatalf("game_over = %+v", gameOver)
	}
	if len(box.records) != 1 || box.records[0].GameID != id || box.records[0].Termination != domain.Resignation {
		t.Fatalf("outbox = %+v", box.records)
	}

	if err := h.o.Replay(context.Background(), box.records[0]); err == nil {
		t.Fatalf("replay through failing store should fail")
	}
	if err := db.FinalizeGame(context.Background(), box.records[0]); err != nil {
		t.Fatalf("direct finalize: %v", err)
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "5+0")
	ctx := context.Background()

	if err := h.o.Chat(ctx, id, "alice", "Alice", "   "); !errors.Is(err, ErrEmptyChat) {
		t.Fatalf("expected empty chat error, got %v", err)
	}
	if err := h.o.Chat(ctx, id, "alice", "Alice", " good luck "); err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, r := range []*recorder{w, b} {
		m, ok := lastOf[arenadto.ChatMessage](r)
		if !ok || m.From != "Alice" || m.Message != "good luck" {
			t.Fatalf("chat = %+v", m)
		}
	}
}

func TestConcurrentMovesSerialized(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.start(t, "5+0")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.o.SubmitMove(ctx, id, "alice", "e2e4")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotYourTurn):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	s, _ := h.o.Snapshot(id)
	if ok != 1 || len(s.MovesUCI) != 1 {
		t.Fatalf("accepted %d moves, history %v", ok, s.MovesUCI)
	}
}

func TestSweepTimeouts(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.start(t, "1+0")
	h.move(t, id, "alice", "e2e4")
	h.clk.Advance(2 * time.Minute)

	if n := h.o.SweepTimeouts(context.Background()); n != 1 {
		t.Fatalf("swept %d games", n)
	}
	s, _ := h.o.Snapshot(id)
	if s.Status != domain.Status(domain.Timeout) || s.Result != domain.ResultWhiteWin {
		t.Fatalf("session = %+v", s)
	}
}

func TestChatRejectedAfterGameOver(t *testing.T) {
	h := newHarness(t, nil)
	id, w, b := h.start(t, "5+0")
	ctx := context.Background()

	if err := h.o.Resign(ctx, id, "alice"); err != nil {
		t.Fatalf("resign: %v", err)
	}
	err := h.o.Chat(ctx, id, "alice", "Alice", "gg")
	if !errors.Is(err, ErrNotActive) || !IsConflict(err) {
		t.Fatalf("expected not active, got %v", err)
	}
	for _, r := range []*recorder{w, b} {
		if n := countOf[arenadto.ChatMessage](r); n != 0 {
			t.Fatalf("chat delivered after game over: %d", n)
		}
	}
}

func TestMoveClearsDrawOffer(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.start(t, "5+0")
	ctx := context.Background()

	if err := h.o.OfferDraw(ctx, id, "alice"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	h.move(t, id, "alice", "e2e4")

	s, _ := h.o.Snapshot(id)
	if s.DrawOfferBy != "" {
		t.Fatalf("offer survived a move: %q", s.DrawOfferBy)
	}
	if err := h.o.AcceptDraw(ctx, id, "bob"); !errors.Is(err, ErrNoDrawOffer) {
		t.Fatalf("expected no draw offer, got %v", err)
	}
	s, _ = h.o.Snapshot(id)
	if !s.Active() {
		t.Fatalf("game ended by a stale offer: %s", s.Status)
	}
}

func TestOffTurnMoveSettlesFallenFlag(t *testing.T) {
	h := newHarness(t, nil)
	id, w, _ := h.start(t, "1+0")
	ctx := context.Background()

	h.move(t, id, "alice", "e2e4")
	h.move(t, id, "bob", "e7e5")
	if err := h.o.SubmitMove(ctx, id, "bob", "d7d5"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected not your turn, got %v", err)
	}

	h.clk.Advance(61 * time.Second)
	if err := h.o.SubmitMove(ctx, id, "bob", "d7d5"); err != nil {
		t.Fatalf("off-turn move after flag: %v", err)
	}
	gameOver, ok := lastOf[arenadto.GameOver](w)
	if !ok || gameOver.Result != "black_win" || gameOver.Termination != "timeout" {
		t.Fatalf("game_over = %+v", gameOver)
	}
	s, _ := h.o.Snapshot(id)
	if s.WhiteTime != 0 || len(s.MovesUCI) != 2 {
		t.Fatalf("after flag = %+v", s)
	}
}

func TestPausedGameSurvivesSessionSweep(t *testing.T) {
	h := newHarness(t, nil)
	id, w, _ := h.start(t, "5+0")
	ctx := context.Background()

	h.move(t, id, "alice", "e2e4")
	h.o.Leave(id, "alice", w)

	h.clk.Advance(61 * time.Minute)
	if n := h.sessions.Sweep(); n != 0 {
		t.Fatalf("paused game evicted")
	}
	if err := h.o.Join(ctx, id, "alice", &recorder{}); err != nil {
		t.Fatalf("rejoin after long pause: %v", err)
	}
	s, _ := h.o.Snapshot(id)
	if s.Paused || len(s.MovesUCI) != 1 {
		t.Fatalf("after rejoin = %+v", s)
	}
	g, err := h.db.GetGame(ctx, id)
	if err != nil || g.Status != domain.GameActive {
		t.Fatalf("persisted game = %+v, %v", g, err)
	}
}
