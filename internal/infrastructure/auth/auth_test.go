package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

type memUserStore struct {
	users     map[uuid.UUID]*User
	setupDone bool
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[uuid.UUID]*User)}
}

func (s *memUserStore) SaveUser(ctx context.Context, user *User) error {
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memUserStore) CreateInitialAdmin(ctx context.Context, user *User) error {
	if s.setupDone {
		return errors.ErrSetupComplete
	}
	s.setupDone = true
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memUserStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user")
	}
	copied := *u
	return &copied, nil
}

func (s *memUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, errors.NewNotFoundError("user")
}

func (s *memUserStore) ListUsers(ctx context.Context) ([]*User, error) {
	var result []*User
	for _, u := range s.users {
		copied := *u
		result = append(result, &copied)
	}
	return result, nil
}

func (s *memUserStore) CountAdmins(ctx context.Context) (int, error) {
	count := 0
	for _, u := range s.users {
		if u.Role == RoleAdmin && u.Active {
			count++
		}
	}
	return count, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(strings.Repeat("s", 32), "ledgertrace-test", time.Hour)
	require.NoError(t, err)
	return svc
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	user, err := NewUser("analyst@example.com", "Analyst", RoleAnalyst, "hash")
	require.NoError(t, err)

	token, issued, err := svc.GenerateToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, RoleAnalyst, claims.Role)
	assert.Contains(t, claims.Permissions, "cases:write")
	assert.NotContains(t, claims.Permissions, "users:admin")
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := newTestService(t)
	user, err := NewUser("analyst@example.com", "Analyst", RoleAnalyst, "hash")
	require.NoError(t, err)

	token, _, err := svc.GenerateToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token + "x")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuth))
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	svc := newTestService(t)
	other, err := NewService(strings.Repeat("o", 32), "ledgertrace-test", time.Hour)
	require.NoError(t, err)

	user, err := NewUser("analyst@example.com", "Analyst", RoleAnalyst, "hash")
	require.NoError(t, err)
	token, _, err := other.GenerateToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService("short", "ledgertrace", time.Hour)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestPasswordHashing(t *testing.T) {
	svc := newTestService(t)

	hash, err := svc.HashPassword("correct-horse-battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse-battery", hash)

	require.NoError(t, svc.ComparePassword(hash, "correct-horse-battery"))
	err = svc.ComparePassword(hash, "wrong-password-guess")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuth))
}

func TestHashPasswordRejectsWeak(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.HashPassword("short")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestSetupCreatesAdminExactlyOnce(t *testing.T) {
	store := newMemUserStore()
	manager := NewManager(store, newTestService(t), zap.NewNop())
	ctx := context.Background()

	required, err := manager.SetupRequired(ctx)
	require.NoError(t, err)
	assert.True(t, required)

	admin, err := manager.Setup(ctx, "admin@example.com", "Admin", "initial-admin-password")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role)

	required, err = manager.SetupRequired(ctx)
	require.NoError(t, err)
	assert.False(t, required)

	_, err = manager.Setup(ctx, "second@example.com", "Second", "another-long-password")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestLoginIssuesToken(t *testing.T) {
	store := newMemUserStore()
	svc := newTestService(t)
	manager := NewManager(store, svc, zap.NewNop())
	ctx := context.Background()

	_, err := manager.Setup(ctx, "admin@example.com", "Admin", "initial-admin-password")
	require.NoError(t, err)

	token, user, err := manager.Login(ctx, "admin@example.com", "initial-admin-password")
	require.NoError(t, err)
	require.NotNil(t, user.LastLogin)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
}

type memSessions struct {
	live map[string]bool
}

func newMemSessions() *memSessions {
	return &memSessions{live: make(map[string]bool)}
}

func (s *memSessions) Create(ctx context.Context, sessionID string, userID uuid.UUID, ttl time.Duration) error {
	s.live[sessionID] = true
	return nil
}

func (s *memSessions) Revoke(ctx context.Context, sessionID string) error {
	delete(s.live, sessionID)
	return nil
}

func TestLogoutRevokesSession(t *testing.T) {
	store := newMemUserStore()
	svc := newTestService(t)
	manager := NewManager(store, svc, zap.NewNop())
	sessions := newMemSessions()
	manager.BindSessions(sessions)
	ctx := context.Background()

	_, err := manager.Setup(ctx, "admin@example.com", "Admin", "initial-admin-password")
	require.NoError(t, err)

	token, _, err := manager.Login(ctx, "admin@example.com", "initial-admin-password")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, sessions.live[claims.ID])

	require.NoError(t, manager.Logout(ctx, claims.ID))
	assert.False(t, sessions.live[claims.ID])
}

func TestLoginFailuresAreUniform(t *testing.T) {
	store := newMemUserStore()
	manager := NewManager(store, newTestService(t), zap.NewNop())
	ctx := context.Background()

	_, err := manager.Setup(ctx, "admin@example.com", "Admin", "initial-admin-password")
	require.NoError(t, err)

	_, _, unknownErr := manager.Login(ctx, "nobody@example.com", "whatever-password")
	_, _, wrongErr := manager.Login(ctx, "admin@example.com", "wrong-password-guess")

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error(),
		"unknown account and bad password are indistinguishable")
}

func TestDeactivateLastAdminRejected(t *testing.T) {
	store := newMemUserStore()
	manager := NewManager(store, newTestService(t), zap.NewNop())
	ctx := context.Background()

	admin, err := manager.Setup(ctx, "admin@example.com", "Admin", "initial-admin-password")
	require.NoError(t, err)

	err = manager.DeactivateUser(ctx, admin.ID)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestDeactivatedUserCannotLogin(t *testing.T) {
	store := newMemUserStore()
	manager := NewManager(store, newTestService(t), zap.NewNop())
	ctx := context.Background()

	_, err := manager.Setup(ctx, "admin@example.com", "Admin", "initial-admin-password")
	require.NoError(t, err)
	analyst, err := manager.CreateUser(ctx, "analyst@example.com", "Analyst", RoleAnalyst, "analyst-password-1")
	require.NoError(t, err)

	require.NoError(t, manager.DeactivateUser(ctx, analyst.ID))
	_, _, err = manager.Login(ctx, "analyst@example.com", "analyst-password-1")
	assert.Error(t, err)
}
