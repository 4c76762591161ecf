// Package outbox keeps finalize records that durable storage rejected and
// replays them until they are accepted.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
)

const (
	keyPrefix = "arena:outbox:finalize:"
	indexKey  = keyPrefix + "index"
	lockKey   = keyPrefix + "lock"
	lockTTL   = 30 * time.Second
)

// ApplyFunc writes one record to durable storage.
type ApplyFunc func(ctx context.Context, f store.FinalizedGame) error

type Outbox struct {
	rdb    redis.UniversalClient
	holder string
	logger *zap.Logger
}

func New(rdb redis.UniversalClient, logger *zap.Logger) *Outbox {
	return &Outbox{rdb: rdb, holder: uuid.NewString(), logger: obslog.Or(logger)}
}

// Dial connects to REDIS_URL and verifies the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

func recordKey(gameID string) string { return keyPrefix + gameID }

// Push stores f and indexes it for replay. Pushing the same game twice
// keeps the latest record.
func (o *Outbox) Push(ctx context.Context, f store.FinalizedGame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal finalize record: %w", err)
	}
	_, err = o.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, recordKey(f.GameID), raw, 0)
		p.SAdd(ctx, indexKey, f.GameID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push finalize record: %w", err)
	}
	return nil
}

// Pending lists the game ids waiting for replay.
func (o *Outbox) Pending(ctx context.Context) ([]string, error) {
	return o.rdb.SMembers(ctx, indexKey).Result()
}

// Drain replays every pending record through apply. A record is removed
// only after apply succeeds. Only one process drains at a time.
func (o *Outbox) Drain(ctx context.Context, apply ApplyFunc) (int, error) {
	lock, err := AcquireLock(ctx, o.rdb, lockKey, o.holder, lockTTL)
	if errors.Is(err, ErrLockNotAcquired) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("acquire outbox lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("outbox_lock_release_failed", zap.Error(err))
		}
	}()

	ids, err := o.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	applied := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		raw, err := o.rdb.Get(ctx, recordKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			o.rdb.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return applied, fmt.Errorf("read outbox record %s: %w", id, err)
		}
		var f store.FinalizedGame
		if err := json.Unmarshal(raw, &f); err != nil {
			o.logger.Error("outbox_record_corrupt", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if err := apply(ctx, f); err != nil {
			o.logger.Warn("outbox_apply_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if _, err := o.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, recordKey(id))
			p.SRem(ctx, indexKey, id)
			return nil
		}); err != nil {
			return applied, fmt.Errorf("ack outbox record %s: %w", id, err)
		}
		applied++
		o.logger.Info("outbox_applied", zap.String("game_id", id))
	}
	return applied, nil
}

// Run drains on every tick until ctx is done.
func (o *Outbox) Run(ctx context.Context, interval time.Duration, apply ApplyFunc) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Drain(ctx, apply); err != nil {
				o.logger.Warn("outbox_drain_failed", zap.Error(err))
			}
		}
	}
}
