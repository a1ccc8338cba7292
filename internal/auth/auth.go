// Package auth issues and validates bearer tokens. Email verification and
// OAuth exchanges live outside this service; only the token boundary the
// chat transport depends on is implemented here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier validates a bearer token to a user identity. The orchestrator
// and the REST surface only depend on this interface.
type Verifier interface {
	VerifyToken(token string) (*models.User, error)
}

type Service struct {
	db     *db.Database
	secret []byte
	ttl    time.Duration
}

func NewService(database *db.Database, secret string, ttl time.Duration) *Service {
	return &Service{db: database, secret: []byte(secret), ttl: ttl}
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken mints an HS256 JWT with the user's email as subject.
func (s *Service) IssueToken(user *models.User) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   user.Email,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken parses and validates a token and resolves its subject to a
// verified user. Unverified identities are rejected.
func (s *Service) VerifyToken(token string) (*models.User, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.db.GetUserByEmail(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.Verified {
		return nil, ErrInvalidToken
	}
	return user, nil
}

type contextKey struct{}

// WithUser stores the authenticated user on the context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFrom returns the authenticated user, or nil.
func UserFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(contextKey{}).(*models.User)
	return user
}
