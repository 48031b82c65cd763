// Package cursor persists the upstream pagination cursor as a single row in app_settings.
package cursor

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// SettingKey is the app_settings row holding the cursor.
const SettingKey = "last_cursor"

// Store saves, loads and clears the cursor. An empty string means no cursor.
type Store struct {
	db     *sql.DB
	logger *zap.Logger // optional
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger that receives load failures.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a cursor store backed by db, which must have the app_settings table.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize trims token and maps the empty string and the literal "none"
// (any case) to "".
func Normalize(token string) string {
	token = strings.TrimSpace(token)
	if strings.EqualFold(token, "none") {
		return ""
	}
	return token
}

// Save upserts the cursor and returns the value actually stored, normalized
// the same way Load reads it. A blank or "none" token is stored as NULL and
// reported as "". On failure nothing is stored and the
// returned value is "".
func (s *Store) Save(ctx context.Context, token string) (string, error) {
	token = Normalize(token)
	var value sql.NullString
	if token != "" {
		value = sql.NullString{String: token, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		SettingKey, value,
	)
	if err != nil {
		return "", err
	}
	if s.logger != nil {
		s.logger.Debug("cursor saved", zap.String("cursor", token))
	}
	return token, nil
}

// Load returns the stored cursor, or "" when there is none. Storage failures
// are logged and reported as "".
func (s *Store) Load(ctx context.Context) string {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, SettingKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ""
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to load cursor", zap.Error(err))
		}
		return ""
	}
	if !value.Valid {
		return ""
	}
	return Normalize(value.String)
}

// Clear removes the cursor. Clearing an absent cursor is not an error.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, SettingKey)
	return err
}
