package distlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultTTL bounds how long a claim survives a crashed holder. It must
// outlast one sink call plus the watermark write.
const DefaultTTL = 60 * time.Second

const keyPrefix = "leadsync:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired claim re-taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX, shared by every instance
// pointed at the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a RedisLocker. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// TryLock claims key for the locker's TTL.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	rkey := keyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
	if err != nil {
		return nil, false, eris.Wrapf(err, "distlock: acquire %s", key)
	}
	if !ok {
		return nil, false, nil
	}

	var (
		once       sync.Once
		releaseErr error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.client, []string{rkey}, token).Err(); err != nil {
				releaseErr = eris.Wrapf(err, "distlock: release %s", key)
			}
		})
		return releaseErr
	}, true, nil
}

// TTL returns how long a claim lives without being released.
func (l *RedisLocker) TTL() time.Duration {
	return l.ttl
}

// Ping checks connectivity to Redis.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return eris.Wrap(l.client.Ping(ctx).Err(), "distlock: ping")
}
