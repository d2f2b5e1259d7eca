package database

import (
	"context"
	"encoding/json"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// LinkRepository is the append-only attribution log. Replay order is
// recorded_at then id, so the clustering engine reconstructs the same state
// on every rebuild.
type LinkRepository struct {
	store *Store
}

// NewLinkRepository creates a link log repository
func NewLinkRepository(store *Store) *LinkRepository {
	return &LinkRepository{store: store}
}

// AppendLink writes one clustering record
func (r *LinkRepository) AppendLink(ctx context.Context, record *entity.LinkRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.NewInternalError("encoding link record").WithCause(err)
	}

	query := `
		INSERT INTO entity_links (id, recorded_at, split, payload)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.store.pool.Exec(ctx, query,
		record.ID, record.RecordedAt, record.Split, payload); err != nil {
		return execError("link record", err)
	}
	return nil
}

// LinkLog returns the full log in replay order
func (r *LinkRepository) LinkLog(ctx context.Context) ([]*entity.LinkRecord, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT payload FROM entity_links ORDER BY recorded_at, id`)
	if err != nil {
		return nil, scanError("link record", err)
	}
	defer rows.Close()

	var result []*entity.LinkRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("link record", err)
		}
		var record entity.LinkRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, errors.NewInternalError("decoding link record").WithCause(err)
		}
		result = append(result, &record)
	}
	return result, rows.Err()
}
