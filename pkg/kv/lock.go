package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lease is a time-boxed exclusion marker. There is no unlock: expiry is the
// only release path, which bounds how long a crashed holder can stall
// contenders.
type Lease struct {
	Key      string
	Deadline time.Time
}

func (l Lease) Expired() bool {
	return time.Now().After(l.Deadline)
}

// Locker hands out at most one live lease per key.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

type RedisLocker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire is an atomic set-if-absent with TTL. false means another holder
// has a live lease; the caller should report contention, not retry.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	ok, err := r.client.SetNX(ctx, key, "locked", ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Deadline: time.Now().Add(ttl)}, true, nil
}

func DoctorSlotKey(doctorID uint, slot string) string {
	return fmt.Sprintf("lock:doctor:%d:%s", doctorID, slot)
}
