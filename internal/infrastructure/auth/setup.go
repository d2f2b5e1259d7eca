package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// UserStore persists operator accounts. CreateInitialAdmin must be atomic:
// exactly one caller succeeds across any interleaving, the rest get
// ErrSetupComplete.
type UserStore interface {
	SaveUser(ctx context.Context, user *User) error
	CreateInitialAdmin(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountAdmins(ctx context.Context) (int, error)
}

// SessionRegistrar tracks issued sessions so tokens can be revoked before
// they expire.
type SessionRegistrar interface {
	Create(ctx context.Context, sessionID string, userID uuid.UUID, ttl time.Duration) error
	Revoke(ctx context.Context, sessionID string) error
}

// Manager handles account lifecycle: first-run setup, login and user
// administration. Setup creates exactly one initial admin; once any admin
// exists the endpoint is permanently closed.
type Manager struct {
	store    UserStore
	service  *Service
	sessions SessionRegistrar
	logger   *zap.Logger
}

// NewManager creates an account manager
func NewManager(store UserStore, service *Service, logger *zap.Logger) *Manager {
	return &Manager{store: store, service: service, logger: logger}
}

// BindSessions attaches a session registrar. Without one, tokens stay valid
// until they expire.
func (m *Manager) BindSessions(sessions SessionRegistrar) {
	m.sessions = sessions
}

// SetupRequired reports whether the initial admin is still missing
func (m *Manager) SetupRequired(ctx context.Context) (bool, error) {
	admins, err := m.store.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	return admins == 0, nil
}

// Setup creates the initial admin account. The store's claim makes this
// callable exactly once, concurrent callers included.
func (m *Manager) Setup(ctx context.Context, email, name, password string) (*User, error) {
	hash, err := m.service.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := NewUser(email, name, RoleAdmin, hash)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateInitialAdmin(ctx, user); err != nil {
		return nil, err
	}
	m.logger.Info("initial admin created", zap.String("email", email))
	return user, nil
}

// Login verifies credentials and issues a token
func (m *Manager) Login(ctx context.Context, email, password string) (string, *User, error) {
	user, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Uniform failure: never reveal whether the account exists
		return "", nil, errors.NewUnauthorizedError("invalid credentials")
	}
	if !user.Active {
		return "", nil, errors.NewUnauthorizedError("invalid credentials")
	}
	if err := m.service.ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, err
	}

	token, claims, err := m.service.GenerateToken(user)
	if err != nil {
		return "", nil, err
	}
	if m.sessions != nil {
		// A session we cannot track is a session we cannot revoke
		if err := m.sessions.Create(ctx, claims.ID, user.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			return "", nil, err
		}
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	if err := m.store.SaveUser(ctx, user); err != nil {
		m.logger.Warn("recording last login failed", zap.Error(err))
	}
	return token, user, nil
}

// Logout revokes the session behind a token's jti
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if m.sessions == nil {
		return nil
	}
	return m.sessions.Revoke(ctx, sessionID)
}

// CreateUser adds an account. Admin only; enforced at the API layer.
func (m *Manager) CreateUser(ctx context.Context, email, name string, role Role, password string) (*User, error) {
	if _, err := m.store.GetUserByEmail(ctx, email); err == nil {
		return nil, errors.NewConflictError("an account with this email already exists")
	}
	hash, err := m.service.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := NewUser(email, name, role, hash)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeactivateUser disables an account without deleting its audit trail
func (m *Manager) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	user, err := m.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == RoleAdmin {
		admins, err := m.store.CountAdmins(ctx)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return errors.NewConflictError("cannot deactivate the last admin")
		}
	}
	user.Active = false
	return m.store.SaveUser(ctx, user)
}

// ListUsers returns every account
func (m *Manager) ListUsers(ctx context.Context) ([]*User, error) {
	return m.store.ListUsers(ctx)
}
