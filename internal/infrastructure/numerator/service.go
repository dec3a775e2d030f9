// Package numerator provides PostgreSQL numbering for lot batch numbers.
// Pattern: LOT-YEAR-XXXXX (e.g., LOT-2024-00001), one sequence per center and year.
package numerator

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
)

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict uses UPSERT ... RETURNING for every number inside the
	// caller's transaction. Rolled back purchases release their number.
	StrategyStrict Strategy = iota

	// StrategyCached allocates ranges of numbers in memory outside of any
	// transaction. Faster, but restarts leave gaps.
	StrategyCached
)

const (
	defaultPrefix    = "LOT"
	defaultPadWidth  = 5
	defaultRangeSize = 50
)

// Querier interface for database operations.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierSource resolves the querier for a call. TxManager.GetQuerier fits.
type QuerierSource func(ctx context.Context) Querier

// Options configures the service.
type Options struct {
	Strategy  Strategy
	RangeSize int64 // numbers allocated at once by StrategyCached
	Prefix    string
	PadWidth  int
}

type cachedRange struct {
	current int64
	max     int64
}

// Service generates batch numbers from the stock_sequences table.
type Service struct {
	querier QuerierSource
	opts    Options

	cacheMu sync.Mutex
	ranges  map[string]*cachedRange
}

var _ inventory.BatchNumberer = (*Service)(nil)

// New creates a numerator. With StrategyCached the source should not be
// transaction-bound, since a rolled back range would be handed out again.
func New(querier QuerierSource, opts Options) *Service {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.PadWidth <= 0 {
		opts.PadWidth = defaultPadWidth
	}
	if opts.RangeSize <= 0 {
		opts.RangeSize = defaultRangeSize
	}
	return &Service{
		querier: querier,
		opts:    opts,
		ranges:  make(map[string]*cachedRange),
	}
}

// NextBatchNumber returns the next batch number of the center for the
// period's year.
func (s *Service) NextBatchNumber(ctx context.Context, centerID id.ID, period calendar.Period) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}

	var (
		num int64
		err error
	)
	switch s.opts.Strategy {
	case StrategyCached:
		num, err = s.getNextCached(ctx, centerID, period.Year)
	default:
		num, err = s.getNextStrict(ctx, centerID, period.Year)
	}
	if err != nil {
		return "", err
	}

	return s.formatNumber(period.Year, num), nil
}

// getNextStrict fetches the next number directly from DB using UPSERT + RETURNING.
func (s *Service) getNextStrict(ctx context.Context, centerID id.ID, year int) (int64, error) {
	var num int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO stock_sequences (center_id, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (center_id, year) DO UPDATE SET last_value = stock_sequences.last_value + 1
		RETURNING last_value
	`, centerID, year).Scan(&num)
	if err != nil {
		return 0, fmt.Errorf("strict next: %w", err)
	}
	return num, nil
}

// getNextCached fetches next number from memory, refilling from DB if needed.
func (s *Service) getNextCached(ctx context.Context, centerID id.ID, year int) (int64, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	key := fmt.Sprintf("%s:%d", centerID, year)
	rng, exists := s.ranges[key]
	if !exists {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		increment := s.opts.RangeSize

		var newMax int64
		err := s.querier(ctx).QueryRow(ctx, `
			INSERT INTO stock_sequences (center_id, year, last_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (center_id, year) DO UPDATE SET last_value = stock_sequences.last_value + $3
			RETURNING last_value
		`, centerID, year, increment).Scan(&newMax)
		if err != nil {
			return 0, fmt.Errorf("reserve range: %w", err)
		}

		// Range is (newMax-increment, newMax].
		rng.current = newMax - increment
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}

func (s *Service) formatNumber(year int, num int64) string {
	return fmt.Sprintf("%s-%d-%0*d", s.opts.Prefix, year, s.opts.PadWidth, num)
}
