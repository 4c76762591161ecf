package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func record(id string) store.FinalizedGame {
	return store.FinalizedGame{
		GameID:      id,
		Result:      domain.ResultDraw,
		Termination: domain.DrawAgreement,
		MovesUCI:    []string{"e2e4", "e7e5"},
		EndTime:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPushAndDrain(t *testing.T) {
	_, rdb := newRedis(t)
	ob := New(rdb, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, ob.Push(ctx, record("g1")))
	require.NoError(t, ob.Push(ctx, record("g2")))
	require.NoError(t, ob.Push(ctx, record("g1")))

	pending, err := ob.Pending(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g1", "g2"}, pending)

	var seen []store.FinalizedGame
	n, err := ob.Drain(ctx, func(ctx context.Context, f store.FinalizedGame) error {
		seen = append(seen, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, seen, 2)
	assert.Equal(t, []string{"e2e4", "e7e5"}, seen[0].MovesUCI)

	pending, err = ob.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainKeepsFailedRecords(t *testing.T) {
	mr, rdb := newRedis(t)
	ob := New(rdb, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, ob.Push(ctx, record("g1")))

	n, err := ob.Drain(ctx, func(ctx context.Context, f store.FinalizedGame) error {
		return errors.New("still down")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, mr.Exists(recordKey("g1")))

	n, err = ob.Drain(ctx, func(ctx context.Context, f store.FinalizedGame) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(recordKey("g1")))
}

func TestDrainSkipsWhileLocked(t *testing.T) {
	_, rdb := newRedis(t)
	ob := New(rdb, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, ob.Push(ctx, record("g1")))

	other, err := AcquireLock(ctx, rdb, lockKey, "someone-else", time.Minute)
	require.NoError(t, err)

	called := false
	n, err := ob.Drain(ctx, func(ctx context.Context, f store.FinalizedGame) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, called, "apply must not run while another holder drains")
	require.NoError(t, other.Release(ctx))
}

func TestLockReleaseOnlyByHolder(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	first, err := AcquireLock(ctx, rdb, "k", "a", time.Second)
	require.NoError(t, err)
	_, err = AcquireLock(ctx, rdb, "k", "b", time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	mr.FastForward(2 * time.Second)
	second, err := AcquireLock(ctx, rdb, "k", "b", time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Release(ctx), ErrLockNotHeld)
	assert.NoError(t, second.Release(ctx))
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = parseRedisURL("http://localhost")
	assert.Error(t, err)
}
