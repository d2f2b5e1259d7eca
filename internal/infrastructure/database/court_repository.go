package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
)

// ComplianceRepository keeps the append-only history of court readiness
// assessments.
type ComplianceRepository struct {
	store *Store
}

// NewComplianceRepository creates a compliance record repository
func NewComplianceRepository(store *Store) *ComplianceRepository {
	return &ComplianceRepository{store: store}
}

// SaveComplianceRecord appends one assessment snapshot
func (r *ComplianceRepository) SaveComplianceRecord(ctx context.Context, record *forensics.CourtComplianceRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.NewInternalError("encoding compliance record").WithCause(err)
	}

	query := `
		INSERT INTO compliance_records (id, case_id, evidence_id, verdict, assessed_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.store.pool.Exec(ctx, query,
		record.ID, record.CaseID, record.EvidenceID,
		string(record.Verdict), record.AssessedAt, payload); err != nil {
		return execError("compliance record", err)
	}
	return nil
}

// ListComplianceRecords returns a case's assessment history, newest first
func (r *ComplianceRepository) ListComplianceRecords(ctx context.Context, caseID uuid.UUID) ([]*forensics.CourtComplianceRecord, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT payload FROM compliance_records WHERE case_id = $1 ORDER BY assessed_at DESC`, caseID)
	if err != nil {
		return nil, scanError("compliance record", err)
	}
	defer rows.Close()

	var result []*forensics.CourtComplianceRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("compliance record", err)
		}
		var record forensics.CourtComplianceRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, errors.NewInternalError("decoding compliance record").WithCause(err)
		}
		result = append(result, &record)
	}
	return result, rows.Err()
}
