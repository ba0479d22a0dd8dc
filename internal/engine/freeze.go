package engine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/pipeline-approval-relay/internal/infra"
)

// FreezeManager keeps the set of environments where deployments must not be
// approved (change freeze, incident). Rejections are always allowed.
type FreezeManager struct {
	rdb *redis.Client
}

func NewFreezeManager(rdb *redis.Client) *FreezeManager {
	return &FreezeManager{rdb: rdb}
}

// IsFrozen is checked on every invocation: a Lambda environment has no
// long-lived listener to keep a local copy fresh.
func (m *FreezeManager) IsFrozen(ctx context.Context, env string) (bool, error) {
	frozen, err := m.rdb.SIsMember(ctx, infra.RedisKeyFrozenEnvironments, env).Result()
	if err != nil {
		return false, fmt.Errorf("redis: freeze check: %w", err)
	}
	return frozen, nil
}

func (m *FreezeManager) Freeze(ctx context.Context, env string) error {
	pipe := m.rdb.TxPipeline()
	pipe.SAdd(ctx, infra.RedisKeyFrozenEnvironments, env)
	pipe.Publish(ctx, infra.RedisChannelFreezeSignal, env+":on")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: freeze %s: %w", env, err)
	}
	return nil
}

func (m *FreezeManager) Unfreeze(ctx context.Context, env string) error {
	pipe := m.rdb.TxPipeline()
	pipe.SRem(ctx, infra.RedisKeyFrozenEnvironments, env)
	pipe.Publish(ctx, infra.RedisChannelFreezeSignal, env+":off")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: unfreeze %s: %w", env, err)
	}
	return nil
}

// List returns frozen environments.
func (m *FreezeManager) List(ctx context.Context) ([]string, error) {
	envs, err := m.rdb.SMembers(ctx, infra.RedisKeyFrozenEnvironments).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list frozen environments: %w", err)
	}
	return envs, nil
}
