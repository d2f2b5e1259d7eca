package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// Claims are the signed token contents.
type Claims struct {
	jwt.RegisteredClaims
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions"`
}

// Service issues and validates HMAC-signed JWTs and handles password
// hashing.
type Service struct {
	secret      []byte
	issuer      string
	tokenExpiry time.Duration
}

// NewService creates a token service
func NewService(secret string, issuer string, tokenExpiry time.Duration) (*Service, error) {
	if len(secret) < 32 {
		return nil, errors.NewValidationError("WEAK_JWT_SECRET", "JWT secret must be at least 32 bytes")
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	return &Service{
		secret:      []byte(secret),
		issuer:      issuer,
		tokenExpiry: tokenExpiry,
	}, nil
}

// GenerateToken signs a token for an account and returns the claims so the
// caller can register the session under its jti
func (s *Service) GenerateToken(user *User) (string, *Claims, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
			ID:        uuid.NewString(),
		},
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Permissions: user.Role.Permissions(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, errors.NewInternalError("signing token").WithCause(err)
	}
	return signed, &claims, nil
}

// ValidateToken parses and verifies a token
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.NewUnauthorizedError("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.NewUnauthorizedError("invalid or expired token").WithCause(err)
	}
	if !token.Valid {
		return nil, errors.NewUnauthorizedError("invalid token")
	}
	return claims, nil
}

// HashPassword hashes a password with bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < 12 {
		return "", errors.NewValidationError("WEAK_PASSWORD", "password must be at least 12 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.NewInternalError("hashing password").WithCause(err)
	}
	return string(hash), nil
}

// ComparePassword checks a password against its stored hash
func (s *Service) ComparePassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return errors.NewUnauthorizedError("invalid credentials")
	}
	return nil
}
