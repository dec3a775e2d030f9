package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/id"
)

func TestAuditService_InflateRoundTrip(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	raw := []byte(`{"before":{"initialStock":1000},"after":{"initialStock":800}}`)
	entry := AuditEntry{
		ChangesCompressed: s.encoder.EncodeAll(raw, nil),
		CompressionAlgo:   CompressionZstd,
	}

	require.NoError(t, s.inflate(&entry))
	assert.JSONEq(t, string(raw), string(entry.Changes))
	assert.Nil(t, entry.ChangesCompressed)
}

func TestAuditService_InflateUncompressed(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	entry := AuditEntry{Changes: []byte(`{}`), CompressionAlgo: CompressionNone}
	require.NoError(t, s.inflate(&entry))
	assert.Equal(t, `{}`, string(entry.Changes))
}

func TestMonthlyRecordKey(t *testing.T) {
	center := id.MustParse("0190a0b0-0000-7000-8000-000000000001")
	drug := id.MustParse("0190a0b0-0000-7000-8000-000000000002")

	assert.Equal(t,
		"0190a0b0-0000-7000-8000-000000000001/0190a0b0-0000-7000-8000-000000000002/1402/01",
		MonthlyRecordKey(center, drug, "1402/01"))
}
