package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
)

// EvidenceRepository is the vault's index. The artifact bytes live on disk;
// this table carries the item metadata, digest and custody chain.
type EvidenceRepository struct {
	store *Store
}

// NewEvidenceRepository creates an evidence index repository
func NewEvidenceRepository(store *Store) *EvidenceRepository {
	return &EvidenceRepository{store: store}
}

// SaveEvidence upserts one evidence item
func (r *EvidenceRepository) SaveEvidence(ctx context.Context, item *forensics.EvidenceItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return errors.NewInternalError("encoding evidence item").WithCause(err)
	}

	query := `
		INSERT INTO evidence (id, case_id, digest, integrity, collected_date, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			integrity = EXCLUDED.integrity,
			payload = EXCLUDED.payload`

	_, err = r.store.pool.Exec(ctx, query,
		item.ID, item.CaseID, item.Digest, string(item.Integrity),
		item.CollectedDate, payload)
	if err != nil {
		return execError("evidence", err)
	}
	return nil
}

// GetEvidence loads one item by id
func (r *EvidenceRepository) GetEvidence(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT payload FROM evidence WHERE id = $1`, id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("evidence item")
	}
	if err != nil {
		return nil, scanError("evidence", err)
	}
	return decodeEvidence(payload)
}

// ListEvidence returns every item attached to a case, oldest first
func (r *EvidenceRepository) ListEvidence(ctx context.Context, caseID uuid.UUID) ([]*forensics.EvidenceItem, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT payload FROM evidence WHERE case_id = $1 ORDER BY collected_date`, caseID)
	if err != nil {
		return nil, scanError("evidence", err)
	}
	defer rows.Close()
	return collectEvidence(rows)
}

// AllEvidence returns the full index for reconciliation scans
func (r *EvidenceRepository) AllEvidence(ctx context.Context) ([]*forensics.EvidenceItem, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT payload FROM evidence ORDER BY collected_date`)
	if err != nil {
		return nil, scanError("evidence", err)
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func decodeEvidence(payload []byte) (*forensics.EvidenceItem, error) {
	var item forensics.EvidenceItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, errors.NewInternalError("decoding evidence item").WithCause(err)
	}
	return &item, nil
}

func collectEvidence(rows pgx.Rows) ([]*forensics.EvidenceItem, error) {
	var result []*forensics.EvidenceItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("evidence", err)
		}
		item, err := decodeEvidence(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
