package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker serializes subjects across processes sharing one Redis. Each
// lock is a key holding a random token with a TTL so a crashed holder cannot
// wedge a subject forever; release only deletes the key if the token still
// matches.
type RedisLocker struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	retry    time.Duration
	newToken func() string
}

// NewRedisLocker creates a locker storing keys under "ledger:lock:<subject>".
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:   client,
		prefix:   "ledger:lock:",
		ttl:      ttl,
		retry:    50 * time.Millisecond,
		newToken: uuid.NewString,
	}
}

// Lock implements SubjectLocker.
func (l *RedisLocker) Lock(ctx context.Context, subjectID string) (func(), error) {
	key := l.prefix + subjectID
	token := l.newToken()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire %s: %v", ErrTransient, key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
				log.Printf("[RedisLocker] Lock - release %s failed, key expires in %s: %v", key, l.ttl, err)
			}
		})
	}, nil
}

var _ SubjectLocker = (*RedisLocker)(nil)
