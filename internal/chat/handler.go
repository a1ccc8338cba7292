package chat

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The token in the query string is the access control; origin checks
	// are left to a fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler accepts websocket connections for a session and hands them to
// the orchestrator loop.
type Handler struct {
	orch     *Orchestrator
	verifier auth.Verifier
	logger   *zap.Logger
}

func NewHandler(orch *Orchestrator, verifier auth.Verifier, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, verifier: verifier, logger: logger}
}

// ServeWS handles GET /ws/{sessionID}?token=... . The token is validated
// before the session is touched; refusals use close code 1008 (policy
// violation) so clients can distinguish auth failures from transport
// errors.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	token := r.URL.Query().Get("token")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	user, err := h.verifier.VerifyToken(token)
	if err != nil {
		h.refuse(ws, "invalid token")
		return
	}

	session, err := h.orch.db.FindOrCreateSession(sessionID, user.ID)
	if err != nil {
		h.logger.Warn("session refused",
			zap.String("session_id", sessionID), zap.Int64("user_id", user.ID), zap.Error(err))
		h.refuse(ws, "session unavailable")
		return
	}

	h.logger.Info("connection open",
		zap.String("session_id", session.ID), zap.Int64("user_id", user.ID))

	conn := newConn(ws)
	h.orch.runLoop(r.Context(), conn, user, session)
}

func (h *Handler) refuse(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
