package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/models"
)

type stubRetriever struct {
	indexed []string // "sessionID/sourceID" per Index call
	err     error
}

func (s *stubRetriever) Index(_ context.Context, _, sourceID, sessionID string) error {
	s.indexed = append(s.indexed, sessionID+"/"+sourceID)
	return s.err
}

func (s *stubRetriever) Search(context.Context, string, string) (string, error) {
	return "", nil
}

type fixture struct {
	handler   *Handler
	db        *db.Database
	retriever *stubRetriever
	user      *models.User
	uploadDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	user, err := database.CreateUser("alice@example.com", "hash", true)
	require.NoError(t, err)

	retriever := &stubRetriever{}
	uploadDir := t.TempDir()
	return &fixture{
		handler:   NewHandler(database, retriever, uploadDir, zap.NewNop()),
		db:        database,
		retriever: retriever,
		user:      user,
		uploadDir: uploadDir,
	}
}

func (f *fixture) request(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req = req.WithContext(auth.WithUser(req.Context(), f.user))
	rec := httptest.NewRecorder()

	// Route through a mux so path values resolve.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", f.handler.CreateSession)
	mux.HandleFunc("GET /api/sessions", f.handler.ListSessions)
	mux.HandleFunc("GET /api/sessions/{sessionID}/messages", f.handler.ListMessages)
	mux.HandleFunc("POST /api/upload", f.handler.Upload)
	mux.ServeHTTP(rec, req)
	return rec
}

func multipartFile(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateAndListSessions(t *testing.T) {
	f := newFixture(t)

	body := bytes.NewBufferString(`{"title":"Trip planning"}`)
	rec := f.request(t, http.MethodPost, "/api/sessions", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var created models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Trip planning", created.Title)
	require.NotEmpty(t, created.ID)

	// Empty body gets the default title.
	rec = f.request(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var untitled models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &untitled))
	require.Equal(t, models.UntitledSession, untitled.Title)

	rec = f.request(t, http.MethodGet, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	session, err := f.db.CreateSession(f.user.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.db.SaveMessage(&models.Message{
		SessionID: session.ID, UserID: f.user.ID,
		Role: models.RoleUser, Content: "hello",
	}))

	rec := f.request(t, http.MethodGet, "/api/sessions/"+session.ID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	require.Equal(t, "hello", messages[0].Content)
}

func TestListMessagesForeignSessionIsEmpty(t *testing.T) {
	f := newFixture(t)
	bob, err := f.db.CreateUser("bob@example.com", "hash", true)
	require.NoError(t, err)
	foreign, err := f.db.CreateSession(bob.ID, "")
	require.NoError(t, err)

	rec := f.request(t, http.MethodGet, "/api/sessions/"+foreign.ID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestUploadTextDocument(t *testing.T) {
	f := newFixture(t)
	session, err := f.db.CreateSession(f.user.ID, "")
	require.NoError(t, err)

	body, contentType := multipartFile(t, "notes.txt", "meeting notes about budget")
	rec := f.request(t, http.MethodPost, "/api/upload?session_id="+session.ID, body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "text", resp.Type)
	require.Equal(t, "notes.txt", resp.Filename)
	require.Equal(t, "meeting notes about budget", resp.Content)
	require.Empty(t, resp.URL)

	require.Equal(t, []string{session.ID + "/notes.txt"}, f.retriever.indexed)
}

func TestUploadImageStoresFile(t *testing.T) {
	f := newFixture(t)
	session, err := f.db.CreateSession(f.user.ID, "")
	require.NoError(t, err)

	body, contentType := multipartFile(t, "photo.png", "\x89PNG fake bytes")
	rec := f.request(t, http.MethodPost, "/api/upload?session_id="+session.ID, body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "image", resp.Type)
	require.Equal(t, "photo.png", resp.Filename)
	require.True(t, strings.HasPrefix(resp.URL, "/uploads/"))
	require.True(t, strings.HasSuffix(resp.URL, ".png"))

	stored := filepath.Join(f.uploadDir, strings.TrimPrefix(resp.URL, "/uploads/"))
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	require.Equal(t, "\x89PNG fake bytes", string(data))

	// Images are not indexed for retrieval.
	require.Empty(t, f.retriever.indexed)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)
	session, err := f.db.CreateSession(f.user.ID, "")
	require.NoError(t, err)

	body, contentType := multipartFile(t, "payload.exe", "MZ")
	rec := f.request(t, http.MethodPost, "/api/upload?session_id="+session.ID, body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRequiresOwnedSession(t *testing.T) {
	f := newFixture(t)
	bob, err := f.db.CreateUser("bob@example.com", "hash", true)
	require.NoError(t, err)
	foreign, err := f.db.CreateSession(bob.ID, "")
	require.NoError(t, err)

	body, contentType := multipartFile(t, "notes.txt", "secrets")
	rec := f.request(t, http.MethodPost, "/api/upload?session_id="+foreign.ID, body, contentType)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Missing session_id is a different refusal.
	body, contentType = multipartFile(t, "notes.txt", "secrets")
	rec = f.request(t, http.MethodPost, "/api/upload", body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadEmptyDocumentRefused(t *testing.T) {
	f := newFixture(t)
	session, err := f.db.CreateSession(f.user.ID, "")
	require.NoError(t, err)

	body, contentType := multipartFile(t, "blank.txt", "   \n ")
	rec := f.request(t, http.MethodPost, "/api/upload?session_id="+session.ID, body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
