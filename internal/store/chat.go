package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nousos/nous/internal/domain"
)

// ChatStore persists per-user chat history and the active chat context.
type ChatStore struct {
	db *DB
}

// NewChatStore creates a chat store using the given database.
func NewChatStore(db *DB) *ChatStore {
	return &ChatStore{db: db}
}

// Append adds a message to the user's history, assigning an ID and
// timestamp when unset.
func (s *ChatStore) Append(ctx context.Context, userID string, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var metadata sql.NullString
	if msg.Metadata != nil {
		if data, err := json.Marshal(msg.Metadata); err == nil {
			metadata = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, role, content, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, userID, string(msg.Role), msg.Content, msg.Timestamp.UTC().Format(timeLayout), metadata,
	)
	return err
}

// Messages returns the user's history, oldest first.
func (s *ChatStore) Messages(ctx context.Context, userID string) ([]domain.Message, error) {
	return s.query(ctx,
		`SELECT id, role, content, timestamp, metadata
		 FROM chat_messages WHERE user_id = ? ORDER BY seq`, userID,
	)
}

// Search runs a full-text query over the user's history, best match first.
func (s *ChatStore) Search(ctx context.Context, userID, query string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	q := ftsQuery(query)
	if q == "" {
		return []domain.Message{}, nil
	}
	return s.query(ctx,
		`SELECT m.id, m.role, m.content, m.timestamp, m.metadata
		 FROM chat_fts f
		 JOIN chat_messages m ON m.seq = f.rowid
		 WHERE chat_fts MATCH ? AND m.user_id = ?
		 ORDER BY f.rank
		 LIMIT ?`, q, userID, limit,
	)
}

// Clear deletes the user's history.
func (s *ChatStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_id = ?`, userID)
	return err
}

// SetContext stores the active chat context, e.g. "financial/cashflow".
func (s *ChatStore) SetContext(ctx context.Context, userID, chatContext string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO chat_state (user_id, context, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
		userID, chatContext, time.Now().UTC().Format(timeLayout),
	)
	return err
}

// Context returns the active chat context, "" when none is set.
func (s *ChatStore) Context(ctx context.Context, userID string) (string, error) {
	var c string
	err := s.db.sql.QueryRowContext(ctx, `SELECT context FROM chat_state WHERE user_id = ?`, userID).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return c, err
}

func (s *ChatStore) query(ctx context.Context, q string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role, ts string
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts, &metadata); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.Timestamp, _ = time.Parse(timeLayout, ts)
		if metadata.Valid && metadata.String != "" {
			var md domain.MessageMetadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err == nil {
				msg.Metadata = &md
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
