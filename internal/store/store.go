// Package store provides the SQLite-backed persistence layer: users,
// folders, sessions, parameter templates, and the per-session message log.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/unrcom/llamune-chat/internal/provider"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// User is an account that owns folders, sessions and templates.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser creates a user with a fresh access token.
func (s *Store) CreateUser(name string) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Name:      name,
		Token:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`INSERT INTO users (id, name, token, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Token, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users, tokens omitted.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserByToken resolves an access token to its user.
func (s *Store) GetUserByToken(token string) (*User, error) {
	var u User
	err := s.db.QueryRow(`SELECT id, name, token, created_at FROM users WHERE token = ?`, token).
		Scan(&u.ID, &u.Name, &u.Token, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser removes a user and, via cascade, everything it owns.
func (s *Store) DeleteUser(id string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Folders
// ---------------------------------------------------------------------------

// Folder groups sessions for one user.
type Folder struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateFolder creates a folder.
func (s *Store) CreateFolder(userID, name string) (*Folder, error) {
	f := &Folder{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`INSERT INTO folders (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return f, nil
}

// ListFolders returns one user's folders.
func (s *Store) ListFolders(userID string) ([]Folder, error) {
	rows, err := s.db.Query(`SELECT id, user_id, name, created_at FROM folders WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// RenameFolder updates a folder name.
func (s *Store) RenameFolder(id, name string) error {
	_, err := s.db.Exec(`UPDATE folders SET name = ? WHERE id = ?`, name, id)
	return err
}

// DeleteFolder removes a folder; its sessions fall back to no folder.
func (s *Store) DeleteFolder(id string) error {
	_, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// Session is one conversation and the owner of its message log.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	FolderID      string    `json:"folder_id,omitempty"`
	Title         string    `json:"title"`
	Model         string    `json:"model"`
	WorkspaceRoot string    `json:"workspace_root,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateSession creates a session.
func (s *Store) CreateSession(sess *Session) (*Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO sessions (id, user_id, folder_id, title, model, workspace_root, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, nullable(sess.FolderID), sess.Title, sess.Model, sess.WorkspaceRoot, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns one session.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	var folderID sql.NullString
	err := s.db.QueryRow(`SELECT id, user_id, folder_id, title, model, workspace_root, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &folderID, &sess.Title, &sess.Model, &sess.WorkspaceRoot, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.FolderID = folderID.String
	return &sess, nil
}

// ListSessions returns one user's sessions, optionally restricted to a folder.
func (s *Store) ListSessions(userID, folderID string) ([]Session, error) {
	query := `SELECT id, user_id, folder_id, title, model, workspace_root, created_at, updated_at FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if folderID != "" {
		query += ` AND folder_id = ?`
		args = append(args, folderID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var fid sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &fid, &sess.Title, &sess.Model, &sess.WorkspaceRoot, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.FolderID = fid.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession updates the mutable session fields.
func (s *Store) UpdateSession(sess *Session) error {
	_, err := s.db.Exec(`UPDATE sessions SET folder_id = ?, title = ?, model = ?, workspace_root = ?, updated_at = ? WHERE id = ?`,
		nullable(sess.FolderID), sess.Title, sess.Model, sess.WorkspaceRoot, time.Now().UTC(), sess.ID)
	return err
}

// DeleteSession removes a session and its message log.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template is a reusable parameter-set preset.
type Template struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	Temperature  float64   `json:"temperature"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateTemplate creates a template.
func (s *Store) CreateTemplate(t *Template) (*Template, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO templates (id, user_id, name, model, system_prompt, temperature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, t.Model, t.SystemPrompt, t.Temperature, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// ListTemplates returns one user's templates.
func (s *Store) ListTemplates(userID string) ([]Template, error) {
	rows, err := s.db.Query(`SELECT id, user_id, name, model, system_prompt, temperature, created_at FROM templates WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Model, &t.SystemPrompt, &t.Temperature, &t.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// GetTemplate returns one template.
func (s *Store) GetTemplate(id string) (*Template, error) {
	var t Template
	err := s.db.QueryRow(`SELECT id, user_id, name, model, system_prompt, temperature, created_at FROM templates WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Model, &t.SystemPrompt, &t.Temperature, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(id string) error {
	_, err := s.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Messages: the append-only per-session log
// ---------------------------------------------------------------------------

// Message is one entry of a session's ordered message log.
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Seq       int64         `json:"seq"`
	Role      provider.Role `json:"role"`
	Content   string        `json:"content"`
	Model     string        `json:"model,omitempty"`
	Thinking  string        `json:"thinking,omitempty"`
	IsAdopted bool          `json:"is_adopted,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Append adds a message to the end of a session's log and returns its id.
func (s *Store) Append(sessionID string, msg *Message) (string, error) {
	if !msg.Role.Valid() {
		return "", fmt.Errorf("invalid role: %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	msg.CreatedAt = time.Now().UTC()

	// Seq is assigned inside the INSERT so concurrent appends to one session
	// can never collide on it. The whole statement runs under one write lock.
	_, err := s.db.Exec(`INSERT INTO messages (id, session_id, seq, role, content, model, thinking, is_adopted, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, sessionID, string(msg.Role), msg.Content, msg.Model, msg.Thinking, msg.IsAdopted, msg.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	if err := s.db.QueryRow(`SELECT seq FROM messages WHERE id = ?`, msg.ID).Scan(&msg.Seq); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	_, _ = s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt, sessionID)
	return msg.ID, nil
}

// ListMessages returns a session's log in append order.
func (s *Store) ListMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, session_id, seq, role, content, model, thinking, is_adopted, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Content, &m.Model, &m.Thinking, &m.IsAdopted, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = provider.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessage removes one message by id.
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// DeleteMostRecentAssistant removes the latest assistant entry of a session.
func (s *Store) DeleteMostRecentAssistant(sessionID string) error {
	return s.deleteNthRecentAssistant(sessionID, 0)
}

// DeleteSecondMostRecentAssistant removes the assistant entry before the
// latest one.
func (s *Store) DeleteSecondMostRecentAssistant(sessionID string) error {
	return s.deleteNthRecentAssistant(sessionID, 1)
}

func (s *Store) deleteNthRecentAssistant(sessionID string, offset int) error {
	var id string
	err := s.db.QueryRow(`SELECT id FROM messages WHERE session_id = ? AND role = 'assistant'
		ORDER BY seq DESC LIMIT 1 OFFSET ?`, sessionID, offset).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no assistant message at offset %d", offset)
	}
	if err != nil {
		return err
	}
	return s.DeleteMessage(id)
}

// MarkAdopted flags one assistant entry as the turn's canonical answer.
func (s *Store) MarkAdopted(id string) error {
	_, err := s.db.Exec(`UPDATE messages SET is_adopted = 1 WHERE id = ?`, id)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
