package broker

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"clinicstock/internal/domain/patients"
)

// Locker adapts redislock to patients.Locker.
type Locker struct {
	client *redislock.Client
}

var _ patients.Locker = (*Locker)(nil)

// NewLocker creates a locker over a redis client.
func NewLocker(client redislock.RedisClient) *Locker {
	return &Locker{client: redislock.New(client)}
}

// Obtain takes key for ttl without retrying.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, patients.ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
