// Package memory keeps an append-only per-user conversation log in SQLite.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversation line.
type Message struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation messages.
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append records one message.
func (s *Store) Append(ctx context.Context, userID int64, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(user_id, role, content, created_at) VALUES(?, ?, ?, ?)`,
		userID, role, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// Recent returns the user's last n messages, oldest first.
func (s *Store) Recent(ctx context.Context, userID int64, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, created_at FROM conversations
		WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// Clear drops the user's history.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id=?`, userID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}
