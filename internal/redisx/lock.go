package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLocked means the lock could not be taken, usually because another
// process holds it.
var ErrLocked = errors.New("lock held elsewhere")

// Locker hands out single-attempt distributed locks.
type Locker struct {
	rs *redsync.Redsync
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(rdb))}
}

// WithLock runs fn while holding the named lock. It does not wait: if the
// lock is taken it returns ErrLocked without running fn.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	m := l.rs.NewMutex(fmt.Sprintf(KeyLock, name), redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLocked, name, err)
	}
	defer func() { _, _ = m.UnlockContext(context.WithoutCancel(ctx)) }()
	return fn(ctx)
}
