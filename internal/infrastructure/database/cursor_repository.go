package database

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// CursorRepository persists collector progress and the block hash history
// used for reorg detection. CommitBatch writes blocks and the advanced
// cursor in one database transaction: the cursor never runs ahead of the
// stored hashes.
type CursorRepository struct {
	store *Store
}

// NewCursorRepository creates a collector cursor repository
func NewCursorRepository(store *Store) *CursorRepository {
	return &CursorRepository{store: store}
}

// Cursor returns the last committed height, zero for a fresh chain
func (r *CursorRepository) Cursor(ctx context.Context, chainID chain.ChainID) (int64, error) {
	var height int64
	err := r.store.pool.QueryRow(ctx,
		`SELECT height FROM collector_cursors WHERE chain = $1`, string(chainID)).Scan(&height)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, scanError("cursor", err)
	}
	return height, nil
}

// StoredHash returns the block hash recorded at a height, empty if unknown
func (r *CursorRepository) StoredHash(ctx context.Context, chainID chain.ChainID, height int64) (string, error) {
	var hash string
	err := r.store.pool.QueryRow(ctx,
		`SELECT hash FROM blocks WHERE chain = $1 AND height = $2`,
		string(chainID), height).Scan(&hash)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", scanError("block", err)
	}
	return hash, nil
}

// StoredTxHashes returns the transaction hashes recorded in [from, to]
func (r *CursorRepository) StoredTxHashes(ctx context.Context, chainID chain.ChainID, from, to int64) ([]string, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT tx_hashes FROM blocks WHERE chain = $1 AND height BETWEEN $2 AND $3 ORDER BY height`,
		string(chainID), from, to)
	if err != nil {
		return nil, scanError("block", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return nil, scanError("block", err)
		}
		var hashes []string
		if err := json.Unmarshal(encoded, &hashes); err != nil {
			return nil, errors.NewInternalError("decoding block tx hashes").WithCause(err)
		}
		result = append(result, hashes...)
	}
	return result, rows.Err()
}

// CommitBatch writes the fetched blocks and advances the cursor atomically
func (r *CursorRepository) CommitBatch(ctx context.Context, chainID chain.ChainID, blocks []*chain.Block, newCursor int64) error {
	dbTx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return execError("cursor batch", err)
	}
	defer dbTx.Rollback(ctx)

	for _, block := range blocks {
		hashes := make([]string, 0, len(block.Transactions))
		for _, tx := range block.Transactions {
			hashes = append(hashes, tx.Hash)
		}
		encoded, err := json.Marshal(hashes)
		if err != nil {
			return errors.NewInternalError("encoding block tx hashes").WithCause(err)
		}
		if _, err := dbTx.Exec(ctx, `
			INSERT INTO blocks (chain, height, hash, parent_hash, block_time, tx_hashes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (chain, height) DO UPDATE SET
				hash = EXCLUDED.hash,
				parent_hash = EXCLUDED.parent_hash,
				block_time = EXCLUDED.block_time,
				tx_hashes = EXCLUDED.tx_hashes`,
			string(chainID), block.Height, block.Hash, block.ParentHash,
			block.Timestamp, encoded); err != nil {
			return execError("block", err)
		}
	}

	if _, err := dbTx.Exec(ctx, `
		INSERT INTO collector_cursors (chain, height)
		VALUES ($1, $2)
		ON CONFLICT (chain) DO UPDATE SET height = EXCLUDED.height`,
		string(chainID), newCursor); err != nil {
		return execError("cursor", err)
	}

	return dbTx.Commit(ctx)
}

// Rewind drops blocks above the common ancestor and resets the cursor
func (r *CursorRepository) Rewind(ctx context.Context, chainID chain.ChainID, toHeight int64) error {
	dbTx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return execError("cursor rewind", err)
	}
	defer dbTx.Rollback(ctx)

	if _, err := dbTx.Exec(ctx,
		`DELETE FROM blocks WHERE chain = $1 AND height > $2`,
		string(chainID), toHeight); err != nil {
		return execError("block", err)
	}
	if _, err := dbTx.Exec(ctx, `
		INSERT INTO collector_cursors (chain, height)
		VALUES ($1, $2)
		ON CONFLICT (chain) DO UPDATE SET height = EXCLUDED.height`,
		string(chainID), toHeight); err != nil {
		return execError("cursor", err)
	}

	return dbTx.Commit(ctx)
}
