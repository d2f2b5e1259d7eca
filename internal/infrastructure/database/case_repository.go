package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/cases"
)

// CaseRepository persists investigation cases.
type CaseRepository struct {
	store *Store
}

// NewCaseRepository creates a case repository
func NewCaseRepository(store *Store) *CaseRepository {
	return &CaseRepository{store: store}
}

// SaveCase upserts the full case aggregate
func (r *CaseRepository) SaveCase(ctx context.Context, c *forensics.Case) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.NewInternalError("encoding case").WithCause(err)
	}

	query := `
		INSERT INTO cases (id, status, priority, investigator, closed_date, created_date, updated_date, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			investigator = EXCLUDED.investigator,
			closed_date = EXCLUDED.closed_date,
			updated_date = EXCLUDED.updated_date,
			payload = EXCLUDED.payload`

	_, err = r.store.pool.Exec(ctx, query,
		c.ID, string(c.Status), string(c.Priority), c.Investigator,
		c.ClosedDate, c.CreatedDate, c.LastUpdated, payload)
	if err != nil {
		return execError("case", err)
	}
	return nil
}

// IncrementEvidenceCount bumps the materialised counter in one statement, so
// concurrent attachments serialise on the row instead of losing updates to a
// read-modify-write cycle.
func (r *CaseRepository) IncrementEvidenceCount(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE cases SET
			payload = jsonb_set(
				jsonb_set(payload, '{evidence_count}',
					to_jsonb(COALESCE((payload->>'evidence_count')::int, 0) + 1)),
				'{last_updated}', to_jsonb(now())),
			updated_date = now()
		WHERE id = $1`

	tag, err := r.store.pool.Exec(ctx, query, id)
	if err != nil {
		return execError("case", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrCaseNotFound
	}
	return nil
}

// GetCase loads one case by id
func (r *CaseRepository) GetCase(ctx context.Context, id uuid.UUID) (*forensics.Case, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT payload FROM cases WHERE id = $1`, id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrCaseNotFound
	}
	if err != nil {
		return nil, scanError("case", err)
	}

	var c forensics.Case
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, errors.NewInternalError("decoding case").WithCause(err)
	}
	return &c, nil
}

// ListCases returns cases matching the filter, newest first
func (r *CaseRepository) ListCases(ctx context.Context, filter cases.Filter) ([]*forensics.Case, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Investigator != "" {
		args = append(args, filter.Investigator)
		conditions = append(conditions, fmt.Sprintf("investigator = $%d", len(args)))
	}

	query := `SELECT payload FROM cases`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_date DESC"
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, scanError("case", err)
	}
	defer rows.Close()

	var result []*forensics.Case
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("case", err)
		}
		var c forensics.Case
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, errors.NewInternalError("decoding case").WithCause(err)
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}
