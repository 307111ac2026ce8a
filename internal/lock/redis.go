package lock

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// minRedisTTL keeps SET NX from being called with a zero or negative expiry,
// which Redis would treat as "no expiry" or reject.
const minRedisTTL = time.Millisecond

// RedisStore keeps lock records as plain keys set with NX and a PX expiry,
// so Redis itself evicts stale locks.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisStore creates a RedisStore over client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Name() string { return "redis" }

// Create sets key only if it does not exist. The stored value is the expiry
// as a unix timestamp, for operators inspecting the keyspace.
func (s *RedisStore) Create(ctx context.Context, key string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl < minRedisTTL {
		ttl = minRedisTTL
	}

	ok, err := s.client.SetNX(ctx, key, strconv.FormatInt(expiresAt.Unix(), 10), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
