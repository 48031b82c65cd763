// Package session persists chat sessions, their messages and refined prompt pairs.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/pkg/utils"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrInvalidRole is returned by SaveMessage for roles other than user, assistant and system.
var ErrInvalidRole = errors.New("invalid message role")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	defaultTitle   = "New Chat"
	titleMaxLength = 30
)

// Session is one conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat turn.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PromptPair is a user prompt and its refined version.
type PromptPair struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Original  string    `json:"original"`
	Refined   string    `json:"refined"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes sessions in SQLite. When a history index is set,
// prompt pairs are mirrored into it for full-text search.
type Store struct {
	db      *sql.DB
	history *HistoryIndex // optional
	logger  *zap.Logger   // optional
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithHistoryIndex mirrors prompt pairs into h.
func WithHistoryIndex(h *HistoryIndex) StoreOption {
	return func(s *Store) { s.history = h }
}

// NewStore wraps an opened database (see storage.Open).
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession inserts a new empty session.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{ID: uuid.New().String(), Title: defaultTitle, CreatedAt: now, UpdatedAt: now}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
		sess.ID, now, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Exists reports whether the session id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return true, nil
}

// SaveMessage appends a message and bumps the session's updated_at.
func (s *Store) SaveMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touch(ctx, tx, sessionID, now); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return &Message{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

// SavePromptPair records a refinement and indexes it for history search.
func (s *Store) SavePromptPair(ctx context.Context, sessionID, original, refined, category string) (*PromptPair, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touch(ctx, tx, sessionID, now); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO prompt_history (session_id, original, refined, category, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, original, refined, category, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save prompt pair: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to save prompt pair: %w", err)
	}

	pair := &PromptPair{ID: id, SessionID: sessionID, Original: original, Refined: refined, Category: category, CreatedAt: now}
	if s.history != nil {
		if err := s.history.Index(ctx, pair); err != nil && s.logger != nil {
			s.logger.Warn("failed to index prompt pair", zap.Int64("id", id), zap.Error(err))
		}
	}
	return pair, nil
}

func touch(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Messages returns the session's messages oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PromptPairs returns the session's prompt pairs oldest first.
func (s *Store) PromptPairs(ctx context.Context, sessionID string) ([]PromptPair, error) {
	return s.queryPairs(ctx,
		`SELECT id, session_id, original, refined, category, created_at FROM prompt_history WHERE session_id = ? ORDER BY id`,
		sessionID)
}

func (s *Store) queryPairs(ctx context.Context, query string, args ...any) ([]PromptPair, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt history: %w", err)
	}
	defer rows.Close()
	var out []PromptPair
	for rows.Next() {
		var p PromptPair
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Original, &p.Refined, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListSessions returns all sessions, most recently updated first. The title is
// the first user message, truncated to 30 characters plus "...", or "New Chat".
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at,
			(SELECT m.content FROM chat_messages m
			 WHERE m.session_id = s.id AND m.role = 'user'
			 ORDER BY m.id LIMIT 1)
		FROM chat_sessions s
		ORDER BY s.updated_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		var first sql.NullString
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &first); err != nil {
			return nil, err
		}
		sess.Title = sessionTitle(first.String)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func sessionTitle(firstUserMessage string) string {
	if firstUserMessage == "" {
		return defaultTitle
	}
	return utils.Truncate(firstUserMessage, titleMaxLength)
}

// ClearSession removes the session's messages and prompt pairs but keeps the session.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	ids, err := s.pairIDs(ctx, sessionID)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := touch(ctx, tx, sessionID, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt_history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear prompt history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.unindex(ctx, ids)
	return nil
}

// DeleteSession removes the session and everything it owns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	ids, err := s.pairIDs(ctx, sessionID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.unindex(ctx, ids)
	return nil
}

func (s *Store) pairIDs(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM prompt_history WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt history: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) unindex(ctx context.Context, ids []int64) {
	if s.history == nil {
		return
	}
	for _, id := range ids {
		if err := s.history.Delete(ctx, id); err != nil && s.logger != nil {
			s.logger.Warn("failed to remove prompt pair from history index", zap.Int64("id", id), zap.Error(err))
		}
	}
}

// SearchHistory runs a full-text query over prompt pairs. It returns nil when
// no history index is configured.
func (s *Store) SearchHistory(ctx context.Context, query string, limit int) ([]PromptPair, error) {
	if s.history == nil {
		return nil, nil
	}
	hits, err := s.history.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]PromptPair, 0, len(hits))
	for _, h := range hits {
		pairs, err := s.queryPairs(ctx,
			`SELECT id, session_id, original, refined, category, created_at FROM prompt_history WHERE id = ?`, h.ID)
		if err != nil {
			return nil, err
		}
		// Stale index entries have no row.
		out = append(out, pairs...)
	}
	return out, nil
}

func pairDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}
