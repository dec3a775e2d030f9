package patients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/id"
)

var now = time.Date(2024, time.May, 20, 3, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return now.AddDate(0, 0, -n) }

func ptr[T any](v T) *T { return &v }

func TestEvaluateStatus(t *testing.T) {
	tests := []struct {
		name    string
		patient Patient
		want    Status
	}{
		{
			name:    "recent delivery stays active",
			patient: Patient{Status: StatusActive, CreatedAt: daysAgo(100), LastDeliveryDate: ptr(daysAgo(3))},
			want:    StatusActive,
		},
		{
			name:    "exactly threshold is still active",
			patient: Patient{Status: StatusActive, CreatedAt: daysAgo(100), LastDeliveryDate: ptr(daysAgo(14))},
			want:    StatusActive,
		},
		{
			name:    "past threshold becomes absent",
			patient: Patient{Status: StatusActive, CreatedAt: daysAgo(100), LastDeliveryDate: ptr(daysAgo(15))},
			want:    StatusAbsent,
		},
		{
			name:    "no delivery uses registration date",
			patient: Patient{Status: StatusActive, CreatedAt: daysAgo(20)},
			want:    StatusAbsent,
		},
		{
			name:    "new registration after old delivery counts",
			patient: Patient{Status: StatusAbsent, CreatedAt: daysAgo(2), LastDeliveryDate: ptr(daysAgo(40))},
			want:    StatusActive,
		},
		{
			name:    "completed is never touched",
			patient: Patient{Status: StatusCompleted, CreatedAt: daysAgo(300)},
			want:    StatusCompleted,
		},
		{
			name:    "deleted keeps status",
			patient: Patient{Status: StatusActive, CreatedAt: daysAgo(300), DeletedAt: ptr(daysAgo(1))},
			want:    StatusActive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateStatus(tt.patient, now, DefaultAbsenceDays))
		})
	}
}

func TestDaysBetween_IgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2024, time.May, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, time.May, 2, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysBetween(a, b))
	assert.Equal(t, 0, DaysBetween(b, b))
}

// memoryRepo applies EvaluateStatus the same way the SQL rollup does.
type memoryRepo struct {
	mu       sync.Mutex
	patients map[id.ID]*Patient
}

func newMemoryRepo(ps ...Patient) *memoryRepo {
	r := &memoryRepo{patients: make(map[id.ID]*Patient)}
	for i := range ps {
		p := ps[i]
		r.patients[p.ID] = &p
	}
	return r
}

func (r *memoryRepo) GetByID(ctx context.Context, centerID, patientID id.ID) (*Patient, error) {
	panic("not used")
}

func (r *memoryRepo) AdvanceLastDelivery(ctx context.Context, patientID id.ID, at time.Time) error {
	panic("not used")
}

func (r *memoryRepo) RefreshStatuses(ctx context.Context, params RollupParams) (RollupResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res RollupResult
	for _, p := range r.patients {
		next := EvaluateStatus(*p, params.Now, params.AbsenceDays)
		if next == p.Status {
			continue
		}
		p.Status = next
		if next == StatusAbsent {
			res.MarkedAbsent++
		} else {
			res.MarkedActive++
		}
	}
	return res, nil
}

func TestRollupService_Idempotent(t *testing.T) {
	repo := newMemoryRepo(
		Patient{ID: id.New(), Status: StatusActive, CreatedAt: daysAgo(30)},
		Patient{ID: id.New(), Status: StatusAbsent, CreatedAt: daysAgo(30), LastDeliveryDate: ptr(daysAgo(1))},
		Patient{ID: id.New(), Status: StatusActive, CreatedAt: daysAgo(30), LastDeliveryDate: ptr(daysAgo(5))},
		Patient{ID: id.New(), Status: StatusCompleted, CreatedAt: daysAgo(300)},
	)
	svc := NewRollupService(repo, WithClock(func() time.Time { return now }))

	first, skipped, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, RollupResult{MarkedAbsent: 1, MarkedActive: 1}, first)

	second, _, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Changed())
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetByID(ctx context.Context, centerID, patientID id.ID) (*Patient, error) {
	args := m.Called(ctx, centerID, patientID)
	p, _ := args.Get(0).(*Patient)
	return p, args.Error(1)
}

func (m *mockRepo) AdvanceLastDelivery(ctx context.Context, patientID id.ID, at time.Time) error {
	return m.Called(ctx, patientID, at).Error(0)
}

func (m *mockRepo) RefreshStatuses(ctx context.Context, params RollupParams) (RollupResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(RollupResult), args.Error(1)
}

type stubLocker struct {
	err      error
	released bool
}

func (l *stubLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released = true
		return nil
	}, nil
}

func TestRollupService_PassesParams(t *testing.T) {
	repo := new(mockRepo)
	repo.On("RefreshStatuses", mock.Anything, RollupParams{Now: now, AbsenceDays: 21}).
		Return(RollupResult{MarkedAbsent: 2}, nil).Once()

	locker := &stubLocker{}
	svc := NewRollupService(repo,
		WithClock(func() time.Time { return now }),
		WithAbsenceDays(21),
		WithLocker(locker, time.Minute),
	)

	res, skipped, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, int64(2), res.MarkedAbsent)
	assert.True(t, locker.released)
	repo.AssertExpectations(t)
}

func TestRollupService_SkipsWhenLockHeld(t *testing.T) {
	repo := new(mockRepo)
	svc := NewRollupService(repo, WithLocker(&stubLocker{err: ErrLockNotObtained}, time.Minute))

	_, skipped, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, skipped)
	repo.AssertNotCalled(t, "RefreshStatuses", mock.Anything, mock.Anything)
}

func TestRollupService_RepoFailure(t *testing.T) {
	repo := new(mockRepo)
	repo.On("RefreshStatuses", mock.Anything, mock.Anything).
		Return(RollupResult{}, errors.New("connection refused"))
	svc := NewRollupService(repo)

	_, _, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
