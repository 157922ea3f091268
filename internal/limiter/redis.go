package limiter

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps counters in Redis so several stub instances share lockouts.
// Keys: <prefix>fails:<email>:<iphash> (expires after Window) and <prefix>block:<email>:<iphash>.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	policy Policy
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redis.UniversalClient, prefix string, p Policy) *Redis {
	if prefix == "" {
		prefix = "daktari:limiter:"
	}
	return &Redis{rdb: rdb, prefix: prefix, policy: p}
}

func (l *Redis) keys(email string, ipHash []byte) (fails, block string) {
	id := email + ":" + hex.EncodeToString(ipHash)
	return l.prefix + "fails:" + id, l.prefix + "block:" + id
}

// Allow reports whether (email, ip) is outside a lockout.
func (l *Redis) Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(email, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, err
	}
	// negative TTL means the key does not exist (or has no expiry)
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (email, ip).
func (l *Redis) Success(ctx context.Context, email string, ipHash []byte) error {
	fails, block := l.keys(email, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure records a failed attempt; the counter window restarts after Window of quiet.
func (l *Redis) Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := l.keys(email, ipHash)
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, fails)
		p.PExpire(ctx, fails, l.policy.Window)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if int(incr.Val()) < l.policy.MaxFails {
		return false, 0, nil
	}
	if err := l.rdb.Set(ctx, block, "1", l.policy.BlockFor).Err(); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
