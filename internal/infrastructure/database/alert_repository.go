package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/webhook"
)

// AlertRepository persists alert rules and webhook registrations.
type AlertRepository struct {
	store *Store
}

// NewAlertRepository creates an alerting repository
func NewAlertRepository(store *Store) *AlertRepository {
	return &AlertRepository{store: store}
}

// SaveRule upserts a rule
func (r *AlertRepository) SaveRule(ctx context.Context, rule *alert.Rule) error {
	payload, err := json.Marshal(rule)
	if err != nil {
		return errors.NewInternalError("encoding alert rule").WithCause(err)
	}

	query := `
		INSERT INTO alert_rules (id, name, enabled, version, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			version = EXCLUDED.version,
			payload = EXCLUDED.payload`

	if _, err := r.store.pool.Exec(ctx, query,
		rule.ID, rule.Name, rule.Enabled, rule.Version, payload); err != nil {
		return execError("alert rule", err)
	}
	return nil
}

// GetRule loads one rule by id
func (r *AlertRepository) GetRule(ctx context.Context, id uuid.UUID) (*alert.Rule, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT payload FROM alert_rules WHERE id = $1`, id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("alert rule")
	}
	if err != nil {
		return nil, scanError("alert rule", err)
	}

	var rule alert.Rule
	if err := json.Unmarshal(payload, &rule); err != nil {
		return nil, errors.NewInternalError("decoding alert rule").WithCause(err)
	}
	return &rule, nil
}

// ListRules returns every rule, stable by name
func (r *AlertRepository) ListRules(ctx context.Context) ([]*alert.Rule, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT payload FROM alert_rules ORDER BY name`)
	if err != nil {
		return nil, scanError("alert rule", err)
	}
	defer rows.Close()

	var result []*alert.Rule
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("alert rule", err)
		}
		var rule alert.Rule
		if err := json.Unmarshal(payload, &rule); err != nil {
			return nil, errors.NewInternalError("decoding alert rule").WithCause(err)
		}
		result = append(result, &rule)
	}
	return result, rows.Err()
}

// DeleteRule removes a rule
func (r *AlertRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.store.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return execError("alert rule", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("alert rule")
	}
	return nil
}

// SaveWebhook upserts a webhook registration
func (r *AlertRepository) SaveWebhook(ctx context.Context, reg *webhook.Registration) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return errors.NewInternalError("encoding webhook").WithCause(err)
	}

	query := `
		INSERT INTO webhooks (id, url, enabled, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			enabled = EXCLUDED.enabled,
			payload = EXCLUDED.payload`

	if _, err := r.store.pool.Exec(ctx, query,
		reg.ID, reg.URL, reg.Enabled, payload); err != nil {
		return execError("webhook", err)
	}
	return nil
}

// GetWebhook loads one registration by id
func (r *AlertRepository) GetWebhook(ctx context.Context, id uuid.UUID) (*webhook.Registration, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT payload FROM webhooks WHERE id = $1`, id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("webhook")
	}
	if err != nil {
		return nil, scanError("webhook", err)
	}

	var reg webhook.Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return nil, errors.NewInternalError("decoding webhook").WithCause(err)
	}
	return &reg, nil
}

// ListWebhooks returns every registration
func (r *AlertRepository) ListWebhooks(ctx context.Context) ([]*webhook.Registration, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT payload FROM webhooks ORDER BY url`)
	if err != nil {
		return nil, scanError("webhook", err)
	}
	defer rows.Close()

	var result []*webhook.Registration
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("webhook", err)
		}
		var reg webhook.Registration
		if err := json.Unmarshal(payload, &reg); err != nil {
			return nil, errors.NewInternalError("decoding webhook").WithCause(err)
		}
		result = append(result, &reg)
	}
	return result, rows.Err()
}

// DeleteWebhook removes a registration
func (r *AlertRepository) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	tag, err := r.store.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return execError("webhook", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("webhook")
	}
	return nil
}
