// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

// SchemaVersion tracks the database schema version for migrations.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS messages (
    id TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    video_url TEXT NOT NULL DEFAULT '',
    client_request_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,       -- microseconds since epoch, UTC
    credits_cost INTEGER NOT NULL DEFAULT 0,
    is_error INTEGER NOT NULL DEFAULT 0,
    generation_params TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages(conversation_id, created_at);
`

// ErrClosed is returned when using a closed store.
var ErrClosed = errors.New("history store is closed")

// =============================================================================
// STORE
// =============================================================================

// Store is the local transcript database. Methods are safe for
// concurrent use; database/sql serializes access to the single file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// The pure Go driver does not support concurrent writers on one
	// connection pool; a single connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// WRITES
// =============================================================================

// SaveMessage upserts one confirmed message. Messages without a
// confirmed identity are skipped; transient entries never persist.
func (s *Store) SaveMessage(msg *model.Message) error {
	if s.db == nil {
		return ErrClosed
	}
	if !msg.ID.IsConfirmed() && msg.ID.Kind != model.KindError {
		return nil
	}

	var params string
	if len(msg.GenerationParams) > 0 {
		raw, err := json.Marshal(msg.GenerationParams)
		if err != nil {
			return fmt.Errorf("failed to encode generation params: %w", err)
		}
		params = string(raw)
	}

	isError := 0
	if msg.IsError {
		isError = 1
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO messages
			(id, conversation_id, role, content, image_url, video_url,
			 client_request_id, created_at, credits_cost, is_error, generation_params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID.String(),
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		model.JoinMediaURLs(msg.ImageURLs),
		model.JoinMediaURLs(msg.VideoURLs),
		msg.ClientRequestID,
		msg.CreatedAt.UnixMicro(),
		msg.CreditsCost,
		isError,
		params,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(conversationID string, id model.MessageID) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec(
		`DELETE FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, id.String(),
	)
	return err
}

// DeleteConversation removes a whole transcript.
func (s *Store) DeleteConversation(conversationID string) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// =============================================================================
// READS
// =============================================================================

// LoadConversation returns the persisted transcript in CreatedAt order.
// An unknown conversation returns an empty slice, not an error.
func (s *Store) LoadConversation(conversationID string) ([]*model.Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, role, content, image_url, video_url, client_request_id,
		       created_at, credits_cost, is_error, generation_params
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var (
			idStr, role, content, imageURL, videoURL, reqID, params string
			createdMicro                                            int64
			creditsCost, isError                                    int
		)
		if err := rows.Scan(&idStr, &role, &content, &imageURL, &videoURL,
			&reqID, &createdMicro, &creditsCost, &isError, &params); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg := &model.Message{
			ID:              model.ParseMessageID(idStr),
			ConversationID:  conversationID,
			Role:            model.Role(role),
			Content:         content,
			ImageURLs:       model.SplitMediaURLs(imageURL),
			VideoURLs:       model.SplitMediaURLs(videoURL),
			ClientRequestID: reqID,
			CreatedAt:       time.UnixMicro(createdMicro).UTC(),
			CreditsCost:     creditsCost,
			IsError:         isError != 0,
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &msg.GenerationParams); err != nil {
				return nil, fmt.Errorf("failed to decode generation params: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// HasConversation reports whether any messages are persisted for the
// conversation.
func (s *Store) HasConversation(conversationID string) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&n)
	return n > 0, err
}

// ConversationIDs returns every conversation with persisted messages,
// most recently active first.
func (s *Store) ConversationIDs() ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query(`
		SELECT conversation_id
		FROM messages
		GROUP BY conversation_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
