package infra

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	// RedisNamespace isolates relay keys in a shared Redis.
	RedisNamespace = "relay"
)

const (
	// RedisKeyFrozenEnvironments is the set of environments that must not be approved.
	RedisKeyFrozenEnvironments = RedisNamespace + ":environments:frozen"
	RedisKeyTokenLockPrefix    = RedisNamespace + ":approvals:token:"

	// RedisChannelFreezeSignal carries "env:on" / "env:off" after every change of the set.
	RedisChannelFreezeSignal = RedisNamespace + ":environments:freeze-signal"
)

// TokenLockKey never stores the raw token: it is a live credential.
func TokenLockKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return RedisKeyTokenLockPrefix + hex.EncodeToString(sum[:])
}
