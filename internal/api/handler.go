// Package api is the request/reply surface beside the websocket: session
// management, message listing and file upload.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/rag"
)

// maxUploadBytes bounds one uploaded file.
const maxUploadBytes = 20 << 20

type Handler struct {
	db        *db.Database
	retriever rag.Retriever
	uploadDir string
	logger    *zap.Logger
}

func NewHandler(database *db.Database, retriever rag.Retriever, uploadDir string, logger *zap.Logger) *Handler {
	return &Handler{db: database, retriever: retriever, uploadDir: uploadDir, logger: logger}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req createSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body means default title

	session, err := h.db.CreateSession(user.ID, req.Title)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, session)
}

// ListSessions handles GET /api/sessions, sorted by last activity.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	sessions, err := h.db.ListSessions(user.ID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, sessions)
}

// ListMessages handles GET /api/sessions/{sessionID}/messages, ascending
// by timestamp. A foreign session yields an empty list, not an error.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	sessionID := r.PathValue("sessionID")

	session, err := h.db.GetSession(sessionID)
	if err != nil || session.UserID != user.ID {
		h.writeJSON(w, []struct{}{})
		return
	}

	messages, err := h.db.ListMessages(sessionID)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, messages)
}

// uploadResponse is the typed descriptor for an uploaded file: an image
// reference, or extracted text plus filename.
type uploadResponse struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Upload handles POST /api/upload?session_id=... with a multipart "file"
// part. Images are stored and referenced by URL; documents are reduced to
// extracted text and indexed for session-scoped retrieval.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	user := auth.UserFrom(r.Context())
	if session, err := h.db.GetSession(sessionID); err != nil || session.UserID != user.ID {
		http.Error(w, "Unknown session", http.StatusForbidden)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	switch ext {
	case "jpg", "jpeg", "png", "webp", "gif":
		h.uploadImage(w, file, header.Filename, ext)
	case "pdf":
		h.uploadDocument(w, r, file, header.Filename, sessionID, extractPDFText)
	case "txt", "md":
		h.uploadDocument(w, r, file, header.Filename, sessionID, extractPlainText)
	default:
		http.Error(w, "Unsupported file type", http.StatusBadRequest)
	}
}

func (h *Handler) uploadImage(w http.ResponseWriter, file io.Reader, filename, ext string) {
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		h.logger.Error("failed to create upload dir", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	name := uuid.NewString() + "." + ext
	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		h.logger.Error("failed to store image", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		h.logger.Error("failed to store image", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, uploadResponse{
		Type:     "image",
		Filename: filename,
		URL:      "/uploads/" + name,
	})
}

type extractor func(data []byte) (string, error)

func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request, file io.Reader, filename, sessionID string, extract extractor) {
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}
	text, err := extract(data)
	if err != nil || strings.TrimSpace(text) == "" {
		h.logger.Warn("text extraction failed", zap.String("filename", filename), zap.Error(err))
		http.Error(w, "Could not extract text", http.StatusBadRequest)
		return
	}

	// Index for retrieval; the upload succeeds even if indexing fails,
	// since the extracted text still reaches the client.
	if err := h.retriever.Index(r.Context(), text, filename, sessionID); err != nil {
		h.logger.Warn("failed to index document",
			zap.String("filename", filename), zap.String("session_id", sessionID), zap.Error(err))
	}

	h.writeJSON(w, uploadResponse{
		Type:     "text",
		Filename: filename,
		Content:  text,
	})
}

func extractPlainText(data []byte) (string, error) {
	return strings.TrimSpace(string(data)), nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if _, err := io.Copy(&out, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to encode response", zap.Error(err))
	}
}
