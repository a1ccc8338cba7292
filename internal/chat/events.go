package chat

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/models"
)

// serverEvent is the single JSON shape for everything pushed to the
// client; Type discriminates.
type serverEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	TempID  string `json:"tempId,omitempty"`
	RealID  string `json:"realId,omitempty"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
}

func startEvent(tempID string) serverEvent {
	return serverEvent{Type: "start", TempID: tempID}
}

func chunkEvent(content string) serverEvent {
	return serverEvent{Type: "chunk", Content: content}
}

func statusEvent(content string) serverEvent {
	return serverEvent{Type: "status", Content: content}
}

func idUpdateEvent(tempID, realID string) serverEvent {
	return serverEvent{Type: "id_update", TempID: tempID, RealID: realID}
}

func titleUpdateEvent(sessionID, title string) serverEvent {
	return serverEvent{Type: "title_update", ID: sessionID, Title: title}
}

func endEvent() serverEvent { return serverEvent{Type: "end"} }

func refreshSessionsEvent() serverEvent { return serverEvent{Type: "refresh-sessions"} }

// clientEvent is the validated inbound shape. Anything that does not
// unmarshal into it is dropped without a reply.
type clientEvent struct {
	Type       string             `json:"type"`
	Message    string             `json:"message,omitempty"`
	TempID     string             `json:"tempId,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	MessageID  string             `json:"messageId,omitempty"`
	NewContent string             `json:"newContent,omitempty"`
}

// conn serializes writes to one websocket. gorilla connections forbid
// concurrent writers, and the detached title goroutine shares the socket
// with the foreground turn. After the first write failure the connection
// is marked closed, further sends become no-ops and onFail runs once to
// cancel in-flight generation.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
	onFail func()
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

// armCancel installs the cancel function for the turn in flight. If the
// socket already failed, the turn is canceled immediately.
func (c *conn) armCancel(cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFail = cancel
	if c.closed {
		cancel()
	}
}

func (c *conn) send(ev serverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.ws.WriteJSON(ev); err != nil {
		c.closed = true
		if c.onFail != nil {
			c.onFail()
		}
	}
}
