package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/db"
)

func newTestService(t *testing.T) (*Service, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewService(database, "test-secret", time.Hour), database
}

func TestTokenRoundTrip(t *testing.T) {
	svc, database := newTestService(t)
	user, err := database.CreateUser("alice@example.com", "hash", true)
	require.NoError(t, err)

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	got, err := svc.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.Equal(t, "alice@example.com", got.Email)
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	svc, database := newTestService(t)
	user, err := database.CreateUser("alice@example.com", "hash", true)
	require.NoError(t, err)

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token + "x")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyToken("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyToken("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsForeignSecret(t *testing.T) {
	svc, database := newTestService(t)
	user, err := database.CreateUser("alice@example.com", "hash", true)
	require.NoError(t, err)

	other := NewService(database, "other-secret", time.Hour)
	token, err := other.IssueToken(user)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsUnverifiedUser(t *testing.T) {
	svc, database := newTestService(t)
	user, err := database.CreateUser("pending@example.com", "hash", false)
	require.NoError(t, err)

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	svc := NewService(database, "test-secret", -time.Minute)

	user, err := database.CreateUser("alice@example.com", "hash", true)
	require.NoError(t, err)

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	require.True(t, CheckPassword(hash, "s3cret"))
	require.False(t, CheckPassword(hash, "wrong"))
}

func TestRegisterLoginFlow(t *testing.T) {
	svc, database := newTestService(t)
	h := NewHandler(svc, database, zap.NewNop())

	body, _ := json.Marshal(credentialsRequest{Email: "alice@example.com", Password: "s3cret"})
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var reg tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	require.NotEmpty(t, reg.AccessToken)
	require.Equal(t, "bearer", reg.TokenType)

	// Duplicate registration is refused.
	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Login with the same credentials succeeds.
	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	// Wrong password is refused without leaking which field was wrong.
	bad, _ := json.Marshal(credentialsRequest{Email: "alice@example.com", Password: "wrong"})
	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(bad)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddleware(t *testing.T) {
	svc, database := newTestService(t)
	h := NewHandler(svc, database, zap.NewNop())

	user, err := database.CreateUser("alice@example.com", "hash", true)
	require.NoError(t, err)
	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	var sawEmail string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawEmail = UserFrom(r.Context()).Email
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice@example.com", sawEmail)

	// Missing and malformed headers are refused before the handler runs.
	for _, header := range []string{"", "Basic xyz", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.Middleware(next).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}
