package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/infra"
)

// FreezeCache is an in-memory copy of the frozen set for the long-running
// HTTP mode. It is loaded on start and on every resubscribe, then kept
// fresh by the freeze signal channel.
type FreezeCache struct {
	mu     sync.RWMutex
	frozen map[string]struct{}
	rdb    *redis.Client
	logger *zap.Logger

	retryDelay time.Duration
	ready      chan struct{}
	readyOnce  sync.Once
}

func NewFreezeCache(rdb *redis.Client, logger *zap.Logger) *FreezeCache {
	return &FreezeCache{
		frozen:     make(map[string]struct{}),
		rdb:        rdb,
		logger:     logger.Named("freeze-cache"),
		retryDelay: 5 * time.Second,
		ready:      make(chan struct{}),
	}
}

// Init replaces the local copy with the contents of the Redis set.
func (c *FreezeCache) Init(ctx context.Context) error {
	envs, err := c.rdb.SMembers(ctx, infra.RedisKeyFrozenEnvironments).Result()
	if err != nil {
		return err
	}

	fresh := make(map[string]struct{}, len(envs))
	for _, env := range envs {
		fresh[env] = struct{}{}
	}

	c.mu.Lock()
	c.frozen = fresh
	c.mu.Unlock()
	return nil
}

// Start blocks until ctx is done, resubscribing after connection loss.
func (c *FreezeCache) Start(ctx context.Context) {
	for {
		pubsub := c.rdb.Subscribe(ctx, infra.RedisChannelFreezeSignal)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChannelFreezeSignal), zap.Error(err))
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		// signals published before the subscription are covered by a full reload
		if err := c.Init(ctx); err != nil {
			c.logger.Error("sync failed on reconnect", zap.Error(err))
		}
		c.readyOnce.Do(func() { close(c.ready) })

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				c.processSignal(msg.Payload)
			}
		}

		pubsub.Close()
		if !c.sleep(ctx) {
			return
		}
	}
}

// Ready is closed after the first successful subscribe and reload.
func (c *FreezeCache) Ready() <-chan struct{} {
	return c.ready
}

func (c *FreezeCache) processSignal(payload string) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 {
		c.logger.Error("invalid signal format", zap.String("payload", payload))
		return
	}
	env, state := payload[:i], payload[i+1:]

	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case "on":
		c.frozen[env] = struct{}{}
	case "off":
		delete(c.frozen, env)
	default:
		c.logger.Error("invalid signal state", zap.String("payload", payload))
	}
}

// IsFrozen implements FreezeChecker without a Redis round trip.
func (c *FreezeCache) IsFrozen(_ context.Context, env string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.frozen[env]
	return ok, nil
}

func (c *FreezeCache) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
