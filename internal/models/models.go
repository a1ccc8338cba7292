package models

import "time"

// Message roles. Sessions only ever contain user and assistant turns;
// system prompts are assembled at request time and never persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UntitledSession is the sentinel title a session carries until a real
// title is generated from its first user message.
const UntitledSession = "New Chat"

// Attachment kinds.
const (
	AttachmentText  = "text"
	AttachmentImage = "image"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is a tagged union: extracted document text (Kind "text",
// Content set) or an uploaded image reference (Kind "image", URL set).
type Attachment struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Message belongs to exactly one session. CreatedAt is the sole ordering
// key within a session.
type Message struct {
	ID          int64        `json:"id"`
	SessionID   string       `json:"session_id"`
	UserID      int64        `json:"user_id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
