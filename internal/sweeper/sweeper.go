package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
)

const lockName = "expire-pending"

type Expirer interface {
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// Sweeper cancels abandoned pending orders on a schedule. With a Locker
// only one replica sweeps per tick.
type Sweeper struct {
	Orders  Expirer
	Lock    Locker // optional
	MaxAge  time.Duration
	Timeout time.Duration
	Log     zerolog.Logger
}

// RunOnce performs a single sweep. A tick lost to another replica is not
// an error and reports zero.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var n int
	run := func(ctx context.Context) error {
		var err error
		n, err = s.Orders.ExpireStale(ctx, s.MaxAge)
		return err
	}
	if s.Lock == nil {
		return n, run(ctx)
	}
	err := s.Lock.WithLock(ctx, lockName, timeout, run)
	if errors.Is(err, redisx.ErrLocked) {
		s.Log.Debug().Msg("sweep skipped, lock held elsewhere")
		return 0, nil
	}
	return n, err
}

// Start schedules RunOnce. Stop the returned scheduler to end the job.
func (s *Sweeper) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	if s.MaxAge <= 0 {
		return nil, errors.New("sweeper: max age must be positive")
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := s.RunOnce(ctx)
		if err != nil {
			s.Log.Error().Err(err).Int("cancelled", n).Msg("sweep failed")
			return
		}
		s.Log.Info().Int("cancelled", n).Msg("sweep done")
	})
	if err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
