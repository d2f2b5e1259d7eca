package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// Role is the coarse authorization level of an operator account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAnalyst  Role = "analyst"
	RoleReadOnly Role = "readonly"
)

// IsValid checks the role against the known set
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleReadOnly:
		return true
	default:
		return false
	}
}

// Permissions returns the permission set granted by the role. Admin covers
// everything an analyst can do plus user and rule administration and the
// privileged case transitions.
func (r Role) Permissions() []string {
	switch r {
	case RoleAdmin:
		return []string{
			"cases:read", "cases:write", "cases:admin",
			"evidence:read", "evidence:write",
			"rules:read", "rules:write",
			"webhooks:read", "webhooks:write",
			"attribution:read", "attribution:write",
			"risk:read", "reports:read", "reports:write",
			"users:admin", "system:admin",
		}
	case RoleAnalyst:
		return []string{
			"cases:read", "cases:write",
			"evidence:read", "evidence:write",
			"rules:read",
			"webhooks:read",
			"attribution:read", "attribution:write",
			"risk:read", "reports:read", "reports:write",
		}
	case RoleReadOnly:
		return []string{
			"cases:read", "evidence:read", "rules:read",
			"webhooks:read", "attribution:read",
			"risk:read", "reports:read",
		}
	default:
		return nil
	}
}

// HasPermission reports whether the role grants one permission
func (r Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions() {
		if p == permission {
			return true
		}
	}
	return false
}

// User is an operator account.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	CreatedDate  time.Time  `json:"created_date"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// NewUser validates and creates an active account
func NewUser(email, name string, role Role, passwordHash string) (*User, error) {
	if email == "" {
		return nil, errors.NewValidationError("MISSING_EMAIL", "email is required")
	}
	if !role.IsValid() {
		return nil, errors.NewValidationError("INVALID_ROLE", "unknown role: "+string(role))
	}
	if passwordHash == "" {
		return nil, errors.NewValidationError("MISSING_PASSWORD", "password hash is required")
	}
	return &User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedDate:  time.Now().UTC(),
	}, nil
}
