// Package db is the durable conversation store: users, sessions and the
// append-only per-session message log, backed by SQLite.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parley-chat/parley/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Timestamps are stored as integer microseconds since the epoch so that
// strict before/after comparisons within one turn are stable. SQLite's
// CURRENT_TIMESTAMP only has second resolution, which is not enough to
// order a user message and the assistant reply that follows it.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    verified INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    attachments TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_time
    ON messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One pooled connection. SQLite allows a single writer anyway, and a
	// plain :memory: DSN opens a fresh empty database per connection, so a
	// larger pool would hand concurrent callers a database without tables.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error { return db.db.Close() }

func micros(t time.Time) int64      { return t.UTC().UnixMicro() }
func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
func now() time.Time                { return time.Now().UTC() }

// --- users ---

func (db *Database) CreateUser(email, passwordHash string, verified bool) (*models.User, error) {
	u := &models.User{Email: email, PasswordHash: passwordHash, Verified: verified, CreatedAt: now()}
	res, err := db.db.Exec(
		`INSERT INTO users (email, password_hash, verified, created_at) VALUES (?, ?, ?, ?)`,
		u.Email, u.PasswordHash, boolToInt(u.Verified), micros(u.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return u, err
}

func (db *Database) GetUserByEmail(email string) (*models.User, error) {
	return db.scanUser(db.db.QueryRow(
		`SELECT id, email, password_hash, verified, created_at FROM users WHERE email = ?`, email))
}

func (db *Database) GetUserByID(id int64) (*models.User, error) {
	return db.scanUser(db.db.QueryRow(
		`SELECT id, email, password_hash, verified, created_at FROM users WHERE id = ?`, id))
}

func (db *Database) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var verified int
	var created int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &verified, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Verified = verified != 0
	u.CreatedAt = fromMicros(created)
	return &u, nil
}

// --- sessions ---

func (db *Database) CreateSession(userID int64, title string) (*models.Session, error) {
	if title == "" {
		title = models.UntitledSession
	}
	s := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	_, err := db.db.Exec(
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Title, micros(s.CreatedAt), micros(s.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// FindOrCreateSession returns the session with the given id, creating it
// for the user if it does not exist. The insert-then-select form is a
// single atomic upsert, so concurrent reconnects with the same id cannot
// race into duplicate sessions. A session owned by a different user is
// never returned.
func (db *Database) FindOrCreateSession(id string, userID int64) (*models.Session, error) {
	t := micros(now())
	_, err := db.db.Exec(
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, userID, models.UntitledSession, t, t)
	if err != nil {
		return nil, fmt.Errorf("find-or-create session: %w", err)
	}
	s, err := db.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrForbidden
	}
	return s, nil
}

func (db *Database) GetSession(id string) (*models.Session, error) {
	var s models.Session
	var created, updated int64
	err := db.db.QueryRow(
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMicros(created)
	s.UpdatedAt = fromMicros(updated)
	return &s, nil
}

func (db *Database) ListSessions(userID int64) ([]models.Session, error) {
	rows, err := db.db.Query(
		`SELECT id, user_id, title, created_at, updated_at
		 FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		var created, updated int64
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &created, &updated); err != nil {
			return nil, err
		}
		s.CreatedAt = fromMicros(created)
		s.UpdatedAt = fromMicros(updated)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchSession advances updated_at; called on every mutation of a session
// so the session list sorts by last activity.
func (db *Database) TouchSession(id string) error {
	_, err := db.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, micros(now()), id)
	return err
}

func (db *Database) UpdateSessionTitle(id, title string) error {
	_, err := db.db.Exec(
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, micros(now()), id)
	return err
}

// UpdateSessionTitleIfUnset sets the title only while it still carries the
// sentinel value. A stale background title generation can therefore never
// overwrite a fresher one. Returns whether the update took effect.
func (db *Database) UpdateSessionTitleIfUnset(id, title string) (bool, error) {
	res, err := db.db.Exec(
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ? AND title = ?`,
		title, micros(now()), id, models.UntitledSession)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- messages ---

func (db *Database) SaveMessage(msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	res, err := db.db.Exec(
		`INSERT INTO messages (session_id, user_id, role, content, attachments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.UserID, msg.Role, msg.Content, string(attachments), micros(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	return err
}

const messageCols = `id, session_id, user_id, role, content, attachments, created_at`

// ListMessages returns every message in the session in ascending
// timestamp order, the only ordering the rest of the system reasons in.
func (db *Database) ListMessages(sessionID string) ([]models.Message, error) {
	return db.queryMessages(
		`SELECT `+messageCols+` FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID)
}

// RecentMessages returns the most recent limit messages, oldest first.
func (db *Database) RecentMessages(sessionID string, limit int) ([]models.Message, error) {
	msgs, err := db.queryMessages(
		`SELECT `+messageCols+` FROM messages WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesBefore returns messages strictly older than cutoff, oldest first.
func (db *Database) MessagesBefore(sessionID string, cutoff time.Time) ([]models.Message, error) {
	return db.queryMessages(
		`SELECT `+messageCols+` FROM messages WHERE session_id = ? AND created_at < ?
		 ORDER BY created_at ASC, id ASC`, sessionID, micros(cutoff))
}

func (db *Database) GetMessage(id int64) (*models.Message, error) {
	msgs, err := db.queryMessages(
		`SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

func (db *Database) UpdateMessageContent(id int64, content string) error {
	res, err := db.db.Exec(`UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessagesAfter removes every message in the session strictly newer
// than cutoff. This is the destructive truncation behind the edit path.
func (db *Database) DeleteMessagesAfter(sessionID string, cutoff time.Time) error {
	_, err := db.db.Exec(
		`DELETE FROM messages WHERE session_id = ? AND created_at > ?`,
		sessionID, micros(cutoff))
	return err
}

func (db *Database) DeleteMessage(id int64) error {
	_, err := db.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// LastMessage returns the newest message in the session, or ErrNotFound.
func (db *Database) LastMessage(sessionID string) (*models.Message, error) {
	msgs, err := db.queryMessages(
		`SELECT `+messageCols+` FROM messages WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// PrecedingUserMessage returns the newest user-authored message strictly
// older than before; used to find the replay prompt for regenerate.
func (db *Database) PrecedingUserMessage(sessionID string, before time.Time) (*models.Message, error) {
	msgs, err := db.queryMessages(
		`SELECT `+messageCols+` FROM messages
		 WHERE session_id = ? AND role = ? AND created_at < ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, models.RoleUser, micros(before))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

func (db *Database) queryMessages(query string, args ...any) ([]models.Message, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var attachments string
		var created int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.Role,
			&msg.Content, &attachments, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		msg.CreatedAt = fromMicros(created)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
