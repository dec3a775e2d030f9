package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestTxManager_Defaults(t *testing.T) {
	m := NewTxManagerFromRawPool(nil, WithDefaultTimeouts(10*time.Second, 0))

	opts := m.Defaults()
	assert.Equal(t, pgx.ReadCommitted, opts.IsolationLevel)
	assert.Equal(t, pgx.ReadWrite, opts.AccessMode)
	assert.Equal(t, 10*time.Second, opts.StatementTimeout)
	assert.Equal(t, 5*time.Second, opts.LockTimeout)
}

func TestTxManager_ReadOnlyOptions(t *testing.T) {
	m := NewTxManagerFromRawPool(nil, WithDefaultTimeouts(0, 2*time.Second))

	opts := m.readOnlyOptions()
	assert.Equal(t, pgx.ReadOnly, opts.AccessMode)
	assert.Equal(t, pgx.RepeatableRead, opts.IsolationLevel)
	assert.Equal(t, 2*time.Second, opts.LockTimeout)

	// Defaults stay read-write.
	assert.Equal(t, pgx.ReadWrite, m.Defaults().AccessMode)
}
