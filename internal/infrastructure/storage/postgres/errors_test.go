package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"clinicstock/internal/core/apperror"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		status   int
	}{
		{
			name:     "lock timeout",
			err:      fmt.Errorf("lock stock: %w", &pgconn.PgError{Code: "55P03"}),
			wantCode: apperror.CodeLockTimeout,
			status:   http.StatusServiceUnavailable,
		},
		{
			name:     "serialization failure",
			err:      &pgconn.PgError{Code: "40001"},
			wantCode: apperror.CodeConcurrentModification,
			status:   http.StatusConflict,
		},
		{
			name:     "deadlock",
			err:      &pgconn.PgError{Code: "40P01"},
			wantCode: apperror.CodeConcurrentModification,
			status:   http.StatusConflict,
		},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: "23505", TableName: "drug_lots", ConstraintName: "drug_lots_batch_key"},
			wantCode: apperror.CodeDuplicate,
			status:   http.StatusConflict,
		},
		{
			name:     "foreign key violation",
			err:      &pgconn.PgError{Code: "23503"},
			wantCode: apperror.CodeValidation,
			status:   http.StatusBadRequest,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("query: %w", context.DeadlineExceeded),
			wantCode: apperror.CodeTimeout,
			status:   http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err, "ledger")
			appErr, ok := apperror.AsAppError(mapped)
			if assert.True(t, ok) {
				assert.Equal(t, tt.wantCode, appErr.Code)
				assert.Equal(t, tt.status, appErr.HTTPStatus)
				assert.ErrorIs(t, mapped, tt.err)
			}
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	assert.NoError(t, MapError(nil, "ledger"))

	insufficient := apperror.NewInsufficientStock("d", 10, 20)
	assert.Same(t, insufficient, MapError(insufficient, "ledger"))

	plain := errors.New("boom")
	assert.Equal(t, plain, MapError(plain, "ledger"))

	other := &pgconn.PgError{Code: "42P01"}
	assert.Equal(t, error(other), MapError(other, "ledger"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("x: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("x")))
}
