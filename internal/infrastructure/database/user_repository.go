package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/auth"
)

// userRecord is the persisted shape; the password hash is excluded from the
// domain type's JSON encoding, so it is carried separately.
type userRecord struct {
	auth.User
	PasswordHash string `json:"password_hash"`
}

// UserRepository persists operator accounts.
type UserRepository struct {
	store *Store
}

// NewUserRepository creates a user repository
func NewUserRepository(store *Store) *UserRepository {
	return &UserRepository{store: store}
}

// SaveUser upserts one account
func (r *UserRepository) SaveUser(ctx context.Context, user *auth.User) error {
	payload, err := json.Marshal(userRecord{User: *user, PasswordHash: user.PasswordHash})
	if err != nil {
		return errors.NewInternalError("encoding user").WithCause(err)
	}

	query := `
		INSERT INTO users (id, email, role, active, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			payload = EXCLUDED.payload`

	if _, err := r.store.pool.Exec(ctx, query,
		user.ID, user.Email, string(user.Role), user.Active, payload); err != nil {
		return execError("user", err)
	}
	return nil
}

// CreateInitialAdmin claims the one-time setup slot and creates the first
// admin in a single transaction. Concurrent callers race on the setup_state
// primary key; exactly one wins.
func (r *UserRepository) CreateInitialAdmin(ctx context.Context, user *auth.User) error {
	payload, err := json.Marshal(userRecord{User: *user, PasswordHash: user.PasswordHash})
	if err != nil {
		return errors.NewInternalError("encoding user").WithCause(err)
	}

	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return execError("user", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO setup_state (id, completed_at) VALUES (1, now())`); err != nil {
		if isUniqueViolation(err) {
			return errors.ErrSetupComplete
		}
		return execError("setup state", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, role, active, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, string(user.Role), user.Active, payload); err != nil {
		return execError("user", err)
	}
	return tx.Commit(ctx)
}

// GetUser loads one account by id
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return r.getOne(ctx, `SELECT payload FROM users WHERE id = $1`, id)
}

// GetUserByEmail loads one account by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, `SELECT payload FROM users WHERE email = $1`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*auth.User, error) {
	var payload []byte
	err := r.store.pool.QueryRow(ctx, query, arg).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("user")
	}
	if err != nil {
		return nil, scanError("user", err)
	}
	return decodeUser(payload)
}

// ListUsers returns every account, stable by email
func (r *UserRepository) ListUsers(ctx context.Context) ([]*auth.User, error) {
	rows, err := r.store.pool.Query(ctx, `SELECT payload FROM users ORDER BY email`)
	if err != nil {
		return nil, scanError("user", err)
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, scanError("user", err)
		}
		user, err := decodeUser(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

// CountAdmins counts active admin accounts
func (r *UserRepository) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := r.store.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE role = $1 AND active`,
		string(auth.RoleAdmin)).Scan(&count)
	if err != nil {
		return 0, scanError("user", err)
	}
	return count, nil
}

func decodeUser(payload []byte) (*auth.User, error) {
	var record userRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, errors.NewInternalError("decoding user").WithCause(err)
	}
	user := record.User
	user.PasswordHash = record.PasswordHash
	return &user, nil
}
