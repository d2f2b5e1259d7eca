package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/pattern"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
)

// GraphRepository persists the transaction graph: processed transactions and
// their movements, per-address aggregates, labels, pattern matches and risk
// assessments. It backs the risk engine, the pattern detector and the
// analysis pipeline's replay index.
type GraphRepository struct {
	store *Store
}

// NewGraphRepository creates a graph repository
func NewGraphRepository(store *Store) *GraphRepository {
	return &GraphRepository{store: store}
}

// Seen reports whether a transaction was already analysed
func (r *GraphRepository) Seen(ctx context.Context, chainID chain.ChainID, hash string) (bool, error) {
	var status string
	err := r.store.pool.QueryRow(ctx,
		`SELECT status FROM transactions WHERE chain = $1 AND hash = $2`,
		string(chainID), hash).Scan(&status)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, scanError("transaction", err)
	}
	return status == "processed", nil
}

// MarkProcessed records the transaction, its movements and the address
// aggregates in one database transaction.
func (r *GraphRepository) MarkProcessed(ctx context.Context, tx *chain.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return errors.NewInternalError("encoding transaction").WithCause(err)
	}

	dbTx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return execError("transaction", err)
	}
	defer dbTx.Rollback(ctx)

	if _, err := dbTx.Exec(ctx, `
		INSERT INTO transactions (chain, hash, block_height, block_hash, status, observed_at, payload)
		VALUES ($1, $2, $3, $4, 'processed', $5, $6)
		ON CONFLICT (chain, hash) DO UPDATE SET
			status = 'processed',
			block_height = EXCLUDED.block_height,
			block_hash = EXCLUDED.block_hash,
			payload = EXCLUDED.payload`,
		string(tx.Chain), tx.Hash, tx.BlockHeight, tx.BlockHash, tx.Timestamp, payload); err != nil {
		return execError("transaction", err)
	}

	for _, m := range tx.Inputs {
		if err := r.recordMovement(ctx, dbTx, tx, m, "out"); err != nil {
			return err
		}
	}
	for _, m := range tx.Outputs {
		if err := r.recordMovement(ctx, dbTx, tx, m, "in"); err != nil {
			return err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return execError("transaction", err)
	}
	return nil
}

// recordMovement writes one transfer edge and bumps the address aggregate.
// Direction is from the address's point of view: an input spends, so the
// address's out side moves.
func (r *GraphRepository) recordMovement(ctx context.Context, dbTx pgx.Tx, tx *chain.Transaction, m chain.Movement, direction string) error {
	if m.Address == "" {
		return nil
	}
	if _, err := dbTx.Exec(ctx, `
		INSERT INTO transfers (chain, tx_hash, direction, address, asset, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		string(tx.Chain), tx.Hash, direction, m.Address, m.Asset, m.Amount); err != nil {
		return execError("transfer", err)
	}

	inInc, outInc := 1, 0
	if direction == "out" {
		inInc, outInc = 0, 1
	}
	if _, err := dbTx.Exec(ctx, `
		INSERT INTO addresses (chain, address, first_seen, last_seen, in_count, out_count)
		VALUES ($1, $2, $3, $3, $4, $5)
		ON CONFLICT (chain, address) DO UPDATE SET
			last_seen = GREATEST(addresses.last_seen, EXCLUDED.last_seen),
			first_seen = LEAST(addresses.first_seen, EXCLUDED.first_seen),
			in_count = addresses.in_count + $4,
			out_count = addresses.out_count + $5`,
		string(tx.Chain), m.Address, tx.Timestamp, inInc, outInc); err != nil {
		return execError("address", err)
	}
	return nil
}

// GetTransaction loads one analysed transaction by chain and hash
func (r *GraphRepository) GetTransaction(ctx context.Context, chainID chain.ChainID, hash string) (*chain.Transaction, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT payload FROM transactions WHERE chain = $1 AND hash = $2 AND payload IS NOT NULL`,
		string(chainID), hash).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("transaction")
	}
	if err != nil {
		return nil, scanError("transaction", err)
	}
	var tx chain.Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, errors.NewInternalError("decoding transaction").WithCause(err)
	}
	return &tx, nil
}

// MarkOrphaned flags a retracted transaction so a later canonical version
// is analysed fresh
func (r *GraphRepository) MarkOrphaned(ctx context.Context, chainID chain.ChainID, hash string) error {
	if _, err := r.store.pool.Exec(ctx, `
		INSERT INTO transactions (chain, hash, status, observed_at)
		VALUES ($1, $2, 'orphaned', now())
		ON CONFLICT (chain, hash) DO UPDATE SET status = 'orphaned'`,
		string(chainID), hash); err != nil {
		return execError("transaction", err)
	}
	return nil
}

// GetAddress loads one address aggregate; volumes are summed from the
// transfer edges
func (r *GraphRepository) GetAddress(ctx context.Context, key chain.AddressKey) (*chain.Address, error) {
	addr := &chain.Address{Key: key}
	err := r.store.pool.QueryRow(ctx, `
		SELECT first_seen, last_seen, in_count, out_count, risk_score
		FROM addresses WHERE chain = $1 AND address = $2`,
		string(key.Chain), key.Address).Scan(
		&addr.FirstSeen, &addr.LastSeen, &addr.InCount, &addr.OutCount, &addr.RiskScore)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("address")
	}
	if err != nil {
		return nil, scanError("address", err)
	}

	rows, err := r.store.pool.Query(ctx, `
		SELECT direction, asset, SUM(amount)
		FROM transfers WHERE chain = $1 AND address = $2
		GROUP BY direction, asset`,
		string(key.Chain), key.Address)
	if err != nil {
		return nil, scanError("transfer", err)
	}
	defer rows.Close()

	addr.InVolume = make(map[string]decimal.Decimal)
	addr.OutVolume = make(map[string]decimal.Decimal)
	for rows.Next() {
		var direction, asset string
		var total decimal.Decimal
		if err := rows.Scan(&direction, &asset, &total); err != nil {
			return nil, scanError("transfer", err)
		}
		if direction == "in" {
			addr.InVolume[asset] = total
		} else {
			addr.OutVolume[asset] = total
		}
	}
	return addr, rows.Err()
}

// Counterparties returns the addresses on the opposite side of any
// transaction the key participated in
func (r *GraphRepository) Counterparties(ctx context.Context, key chain.AddressKey) ([]chain.AddressKey, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT DISTINCT other.address
		FROM transfers own
		JOIN transfers other
			ON other.chain = own.chain
			AND other.tx_hash = own.tx_hash
			AND other.direction <> own.direction
		WHERE own.chain = $1 AND own.address = $2 AND other.address <> $2
		ORDER BY other.address`,
		string(key.Chain), key.Address)
	if err != nil {
		return nil, scanError("transfer", err)
	}
	defer rows.Close()

	var result []chain.AddressKey
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, scanError("transfer", err)
		}
		result = append(result, chain.AddressKey{Chain: key.Chain, Address: address})
	}
	return result, rows.Err()
}

// UpsertLabel writes one label keyed on (source, target, kind, value)
func (r *GraphRepository) UpsertLabel(ctx context.Context, label *entity.Label) error {
	if _, err := r.store.pool.Exec(ctx, `
		INSERT INTO labels (id, kind, value, source, chain, address, fetched_at, provenance_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, chain, address, kind, value) DO UPDATE SET
			fetched_at = EXCLUDED.fetched_at,
			provenance_hash = EXCLUDED.provenance_hash`,
		label.ID, string(label.Kind), label.Value, label.Source,
		string(label.Target.Chain), label.Target.Address,
		label.FetchedAt, label.ProvenanceHash); err != nil {
		return execError("label", err)
	}
	return nil
}

// RemoveStale deletes a source's labels not refreshed since the cutoff
func (r *GraphRepository) RemoveStale(ctx context.Context, source string, before time.Time) (int, error) {
	tag, err := r.store.pool.Exec(ctx,
		`DELETE FROM labels WHERE source = $1 AND fetched_at < $2`, source, before)
	if err != nil {
		return 0, execError("label", err)
	}
	return int(tag.RowsAffected()), nil
}

// LabelsFor returns every label attached to an address
func (r *GraphRepository) LabelsFor(ctx context.Context, key chain.AddressKey) ([]*entity.Label, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, kind, value, source, fetched_at, provenance_hash
		FROM labels WHERE chain = $1 AND address = $2
		ORDER BY source, kind, value`,
		string(key.Chain), key.Address)
	if err != nil {
		return nil, scanError("label", err)
	}
	defer rows.Close()

	var result []*entity.Label
	for rows.Next() {
		label := &entity.Label{Target: key}
		var kind string
		if err := rows.Scan(&label.ID, &kind, &label.Value, &label.Source,
			&label.FetchedAt, &label.ProvenanceHash); err != nil {
			return nil, scanError("label", err)
		}
		label.Kind = entity.LabelKind(kind)
		result = append(result, label)
	}
	return result, rows.Err()
}

// IsMixer reports whether the address carries a mixer label
func (r *GraphRepository) IsMixer(ctx context.Context, key chain.AddressKey) (bool, error) {
	return r.hasLabelValue(ctx, key, "mixer")
}

// IsBridge reports whether the address carries a bridge label
func (r *GraphRepository) IsBridge(ctx context.Context, key chain.AddressKey) (bool, error) {
	return r.hasLabelValue(ctx, key, "bridge")
}

// IsSanctioned reports whether the address matches any sanctions list
func (r *GraphRepository) IsSanctioned(ctx context.Context, key chain.AddressKey) (bool, error) {
	var exists bool
	err := r.store.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM labels
			WHERE chain = $1 AND address = $2 AND kind = $3)`,
		string(key.Chain), key.Address, string(entity.LabelSanctions)).Scan(&exists)
	if err != nil {
		return false, scanError("label", err)
	}
	return exists, nil
}

func (r *GraphRepository) hasLabelValue(ctx context.Context, key chain.AddressKey, value string) (bool, error) {
	var exists bool
	err := r.store.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM labels
			WHERE chain = $1 AND address = $2 AND value = $3)`,
		string(key.Chain), key.Address, value).Scan(&exists)
	if err != nil {
		return false, scanError("label", err)
	}
	return exists, nil
}

// FindByDedupKey loads the match committed to a (kind, tx set) identity
func (r *GraphRepository) FindByDedupKey(ctx context.Context, key string) (*pattern.Match, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT payload FROM pattern_matches WHERE dedup_key = $1`, key).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("pattern match")
	}
	if err != nil {
		return nil, scanError("pattern match", err)
	}

	var match pattern.Match
	if err := json.Unmarshal(payload, &match); err != nil {
		return nil, errors.NewInternalError("decoding pattern match").WithCause(err)
	}
	return &match, nil
}

// SaveMatch upserts a match on its dedup key
func (r *GraphRepository) SaveMatch(ctx context.Context, match *pattern.Match) error {
	payload, err := json.Marshal(match)
	if err != nil {
		return errors.NewInternalError("encoding pattern match").WithCause(err)
	}
	addresses, err := json.Marshal(match.Addresses)
	if err != nil {
		return errors.NewInternalError("encoding pattern match").WithCause(err)
	}

	if _, err := r.store.pool.Exec(ctx, `
		INSERT INTO pattern_matches (id, dedup_key, kind, detected_at, addresses, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedup_key) DO UPDATE SET
			id = EXCLUDED.id,
			detected_at = EXCLUDED.detected_at,
			addresses = EXCLUDED.addresses,
			payload = EXCLUDED.payload`,
		match.ID, match.DedupKey, string(match.Kind), match.DetectedAt, addresses, payload); err != nil {
		return execError("pattern match", err)
	}
	return nil
}

// MatchesFor returns matches whose participant set includes the address
func (r *GraphRepository) MatchesFor(ctx context.Context, key chain.AddressKey) ([]*pattern.Match, error) {
	participant, err := json.Marshal([]chain.AddressKey{key})
	if err != nil {
		return nil, errors.NewInternalError("encoding address key").WithCause(err)
	}

	rows, err := r.store.pool.Query(ctx, `
		SELECT payload FROM pattern_matches
		WHERE addresses @> $1
		ORDER BY detected_at DESC`, participant)
	if err != nil {
		return nil, scanError("pattern match", err)
	}
	defer rows.Close()

	var result []*pattern.Match
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("pattern match", err)
		}
		var match pattern.Match
		if err := json.Unmarshal(payload, &match); err != nil {
			return nil, errors.NewInternalError("decoding pattern match").WithCause(err)
		}
		result = append(result, &match)
	}
	return result, rows.Err()
}

// LastAssessment returns the most recent snapshot for a target
func (r *GraphRepository) LastAssessment(ctx context.Context, targetType risk.TargetType, targetID string) (*risk.Assessment, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx, `
		SELECT payload FROM risk_assessments
		WHERE target_type = $1 AND target_id = $2
		ORDER BY assessed_at DESC, id DESC
		LIMIT 1`,
		string(targetType), targetID).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("risk assessment")
	}
	if err != nil {
		return nil, scanError("risk assessment", err)
	}

	var assessment risk.Assessment
	if err := json.Unmarshal(payload, &assessment); err != nil {
		return nil, errors.NewInternalError("decoding risk assessment").WithCause(err)
	}
	return &assessment, nil
}

// SaveAssessment appends one risk snapshot and mirrors the score onto the
// address aggregate when the target is an address
func (r *GraphRepository) SaveAssessment(ctx context.Context, assessment *risk.Assessment) error {
	payload, err := json.Marshal(assessment)
	if err != nil {
		return errors.NewInternalError("encoding risk assessment").WithCause(err)
	}

	dbTx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return execError("risk assessment", err)
	}
	defer dbTx.Rollback(ctx)

	if _, err := dbTx.Exec(ctx, `
		INSERT INTO risk_assessments (id, target_type, target_id, score, assessed_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		assessment.ID, string(assessment.TargetType), assessment.TargetID,
		assessment.Score, assessment.AssessedAt, payload); err != nil {
		return execError("risk assessment", err)
	}

	if assessment.TargetType == risk.TargetAddress {
		if _, err := dbTx.Exec(ctx, `
			UPDATE addresses SET risk_score = $1
			WHERE chain || ':' || address = $2`,
			assessment.Score, assessment.TargetID); err != nil {
			return execError("address", err)
		}
	}

	return dbTx.Commit(ctx)
}

// PruneAssessments deletes assessment history older than the cutoff, always
// keeping the latest snapshot per target
func (r *GraphRepository) PruneAssessments(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.store.pool.Exec(ctx, `
		DELETE FROM risk_assessments stale
		WHERE stale.assessed_at < $1
		  AND EXISTS (
			SELECT 1 FROM risk_assessments newer
			WHERE newer.target_type = stale.target_type
			  AND newer.target_id = stale.target_id
			  AND (newer.assessed_at, newer.id) > (stale.assessed_at, stale.id))`,
		before)
	if err != nil {
		return 0, execError("risk assessment", err)
	}
	return int(tag.RowsAffected()), nil
}
