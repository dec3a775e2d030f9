// Package postgres provides PostgreSQL infrastructure components.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
)

// AuditAction represents the type of audited operation.
type AuditAction string

const (
	AuditActionCreate  AuditAction = "create"
	AuditActionCorrect AuditAction = "correct"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityKey         string          `db:"entity_key"`
	CenterID          *id.ID          `db:"center_id"`
	Action            AuditAction     `db:"action"`
	UserID            *string         `db:"user_id"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditService provides audit logging functionality.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes; 0 compresses every snapshot
}

var _ inventory.CorrectionAuditor = (*AuditService)(nil)

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager: txManager,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Log records an audit entry in the caller's transaction.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if entry.UserID == nil {
		if uid := appctx.GetUserID(ctx); uid != "" {
			entry.UserID = &uid
		}
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) > s.compressThreshold {
		entry.ChangesCompressed = s.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}

	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (
			id, entity_type, entity_key, center_id, action, user_id,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID, entry.EntityType, entry.EntityKey, entry.CenterID, entry.Action, entry.UserID,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// correctionSnapshot is the audited shape of an initial-stock correction.
type correctionSnapshot struct {
	Before *inventory.MonthlyRecord `json:"before"`
	After  inventory.MonthlyRecord  `json:"after"`
}

// RecordCorrection stores the before/after state of a monthly record whose
// initial stock was corrected.
func (s *AuditService) RecordCorrection(ctx context.Context, before *inventory.MonthlyRecord, after inventory.MonthlyRecord) error {
	changes, err := json.Marshal(correctionSnapshot{Before: before, After: after})
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}

	action := AuditActionCorrect
	if before == nil {
		action = AuditActionCreate
	}
	centerID := after.CenterID
	return s.Log(ctx, AuditEntry{
		EntityType: "monthly_inventory",
		EntityKey:  MonthlyRecordKey(after.CenterID, after.DrugFormID, after.Period().String()),
		CenterID:   &centerID,
		Action:     action,
		Changes:    changes,
	})
}

// MonthlyRecordKey is the audit key of a (center, drug, period) record.
func MonthlyRecordKey(centerID, drugID id.ID, period string) string {
	return centerID.String() + "/" + drugID.String() + "/" + period
}

// GetEntityHistory retrieves audit history for an entity, newest first,
// with snapshots decompressed.
func (s *AuditService) GetEntityHistory(ctx context.Context, entityType, entityKey string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []AuditEntry
	err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &entries, `
		SELECT id, entity_type, entity_key, center_id, action, user_id,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_key = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	for i := range entries {
		if err := s.inflate(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *AuditService) inflate(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	decompressed, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	e.Changes = decompressed
	e.ChangesCompressed = nil
	return nil
}
