package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EntityLocker serializes irreversible steps on the same entity. Locks are
// advisory, scoped to a single step, never held across step boundaries.
type EntityLocker interface {
	Acquire(ctx context.Context, entityRef string) (func(), error)
}

// LocalLocker is an in-process arena of per-entity locks.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]chan struct{}{}}
}

func (l *LocalLocker) slot(entityRef string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.locks[entityRef]
	if !ok {
		slot = make(chan struct{}, 1)
		l.locks[entityRef] = slot
	}
	return slot
}

func (l *LocalLocker) Acquire(ctx context.Context, entityRef string) (func(), error) {
	slot := l.slot(entityRef)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire entity lock for %s is err: %v", entityRef, ctx.Err())
	}
}

const entityLockPrefix = "reactor:entity_lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker serializes entities across processes. The TTL bounds how long
// a crashed holder can wedge an entity.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, entityRef string) (func(), error) {
	key := entityLockPrefix + entityRef
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire redis lock for %s is err: %v", entityRef, err)
		}
		if ok {
			return func() {
				// expired locks release themselves via the TTL
				if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
					logrus.Errorf("release redis lock for %s is err: %v", entityRef, err)
				}
			}, nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire redis lock for %s is err: %v", entityRef, ctx.Err())
		}
	}
}
