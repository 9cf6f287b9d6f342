package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain"
)

// Locker is the subset of the redis locker the sweepers need. A nil Locker runs unguarded;
// row claims in the database keep that safe, the lock only saves duplicate work.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// guarded runs fn under key. It reports false when another instance holds the lock.
func guarded(ctx context.Context, locker Locker, key string, ttl time.Duration, log *zerolog.Logger, fn func(ctx context.Context) error) (bool, error) {
	if locker == nil {
		return true, fn(ctx)
	}
	token, err := locker.TryLock(ctx, key, ttl)
	switch {
	case errors.Is(err, domain.ErrLockNotAcquired):
		return false, nil
	case err != nil:
		log.Warn().Err(err).Str("lock", key).Msg("lock unavailable; running unguarded")
		return true, fn(ctx)
	}
	defer func() {
		if err := locker.Unlock(context.Background(), key, token); err != nil {
			log.Warn().Err(err).Str("lock", key).Msg("unlock failed")
		}
	}()
	return true, fn(ctx)
}
