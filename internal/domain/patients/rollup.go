package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicstock/pkg/logger"
)

// ErrLockNotObtained is returned by Locker when another runner holds the lock.
var ErrLockNotObtained = errors.New("lock not obtained")

// Locker guards a rollup tick across worker replicas.
type Locker interface {
	// Obtain takes the named lock for ttl. The returned func releases it.
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

const rollupLockKey = "clinicstock:patient-status-rollup"

// RollupService recomputes patient presence status from delivery history.
type RollupService struct {
	repo        Repository
	locker      Locker // Optional. Nil means single-runner deployment.
	absenceDays int
	lockTTL     time.Duration
	now         func() time.Time
}

// RollupOption configures RollupService.
type RollupOption func(*RollupService)

// WithLocker sets a distributed lock for multi-replica workers.
func WithLocker(l Locker, ttl time.Duration) RollupOption {
	return func(s *RollupService) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithAbsenceDays overrides DefaultAbsenceDays.
func WithAbsenceDays(days int) RollupOption {
	return func(s *RollupService) {
		if days > 0 {
			s.absenceDays = days
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RollupOption {
	return func(s *RollupService) { s.now = now }
}

// NewRollupService creates a new status rollup service.
func NewRollupService(repo Repository, opts ...RollupOption) *RollupService {
	s := &RollupService{
		repo:        repo,
		absenceDays: DefaultAbsenceDays,
		lockTTL:     5 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one rollup. When another replica holds the lock the tick is
// skipped and a zero result with skipped=true is returned.
func (s *RollupService) Run(ctx context.Context) (result RollupResult, skipped bool, err error) {
	if s.locker != nil {
		release, lockErr := s.locker.Obtain(ctx, rollupLockKey, s.lockTTL)
		if errors.Is(lockErr, ErrLockNotObtained) {
			logger.Info(ctx, "patient status rollup skipped, lock held elsewhere")
			return RollupResult{}, true, nil
		}
		if lockErr != nil {
			return RollupResult{}, false, fmt.Errorf("obtain rollup lock: %w", lockErr)
		}
		defer func() {
			if relErr := release(context.Background()); relErr != nil {
				logger.Warn(ctx, "failed to release rollup lock", "error", relErr)
			}
		}()
	}

	start := s.now()
	result, err = s.repo.RefreshStatuses(ctx, RollupParams{
		Now:         start,
		AbsenceDays: s.absenceDays,
	})
	if err != nil {
		return RollupResult{}, false, fmt.Errorf("refresh patient statuses: %w", err)
	}

	logger.Info(ctx, "patient statuses updated",
		"marked_absent", result.MarkedAbsent,
		"marked_active", result.MarkedActive,
		"absence_days", s.absenceDays,
	)
	return result, false, nil
}
