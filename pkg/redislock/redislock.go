package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a cluster-wide mutual exclusion primitive keyed by string, with
// TTL auto-expiry and owner-token release semantics.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Owned(ctx context.Context, key, token string) (bool, error)
}

// Release and Renew must only succeed for the current owner, so both are
// compare-and-act scripts keyed on the token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type redisLocker struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) Locker {
	return &redisLocker{client: client, prefix: prefix}
}

func (l *redisLocker) key(key string) string {
	return l.prefix + key
}

// TryAcquire is an atomic set-if-absent with TTL. It never blocks: a held
// lock returns ok=false immediately.
func (l *redisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *redisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *redisLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, l.client, []string{l.key(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Owned reports whether token still holds the lock. Used as a stale-writer
// guard before recording success for a long-running execution.
func (l *redisLocker) Owned(ctx context.Context, key, token string) (bool, error) {
	val, err := l.client.Get(ctx, l.key(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == token, nil
}
