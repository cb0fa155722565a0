// Package distlock provides short-lived, non-blocking claims on a key, used
// to keep two deliveries of the same stage event from dispatching at once.
package distlock

import (
	"context"
	"sync"
	"time"
)

// Unlock releases a claim. It is safe to call more than once.
type Unlock func(ctx context.Context) error

// Locker hands out exclusive claims. TryLock never waits: ok is false when
// another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock Unlock, ok bool, err error)
}

// ExpiryMargin is the tail of an expiring claim reserved for work after the
// guarded call, such as recording its result.
const ExpiryMargin = 5 * time.Second

// Expiring is a Locker whose claims lapse after TTL even if never released.
// Holders must finish their critical section within TTL.
type Expiring interface {
	Locker
	TTL() time.Duration
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty LocalLocker.
func NewLocal() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock claims key if nobody in this process holds it.
func (l *LocalLocker) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, true, nil
}
