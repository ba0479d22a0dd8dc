package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/infra"
)

// TokenLock makes sure one approval token is submitted at most once across
// concurrent or replayed invocations.
type TokenLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewTokenLock(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *TokenLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenLock{rdb: rdb, ttl: ttl, logger: logger.With(zap.String("mod", "token-lock"))}
}

// Acquire returns false when another invocation already holds the token.
func (l *TokenLock) Acquire(ctx context.Context, token, holder string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, infra.TokenLockKey(token), holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: token lock: %w", err)
	}
	return ok, nil
}

// Release frees the token after a failed submission so a retry can proceed.
// Only the holder may release.
func (l *TokenLock) Release(ctx context.Context, token, holder string) {
	key := infra.TokenLockKey(token)
	current, err := l.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			l.logger.Warn("could not read token lock", zap.Error(err))
		}
		return
	}
	if current != holder {
		return
	}
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		l.logger.Warn("could not release token lock", zap.Error(err))
	}
}
