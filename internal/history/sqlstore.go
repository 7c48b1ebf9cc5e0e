// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package history implements the durable message log and the in-memory
// terminal ring buffer, generalized from the loadRecords/saveRecords
// JSONL persistence in internal/claude/manager.go into a real
// database/sql layer backed by three relational tables with composite
// unique keys.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relaycore/workstation/internal/protocol"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one durable row in a session's message log.
type Entry struct {
	ID              string
	SessionID       string
	Sequence        int64
	Role            string
	ContentType     string
	Content         string
	ContentBlocks   []protocol.ContentBlock
	AudioInputPath  string
	AudioOutputPath string
	IsComplete      bool
	CreatedAt       time.Time
}

// SessionRecord is one durable row in the sessions table.
type SessionRecord struct {
	ID           string
	Type         string
	Workspace    string
	Project      string
	Worktree     string
	WorkingDir   string
	Status       string
	CreatedAt    time.Time
	TerminatedAt *time.Time
}

// SQLStore is the durable message log, sessions table, and subscriptions
// table backed by a pure-Go sqlite driver (no CGo).
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if absent) a sqlite database at path and
// applies the fixed embedded schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite allows a single writer; keep it simple

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// UpsertSession records a session's creation or status transition.
func (s *SQLStore) UpsertSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, type, workspace, project, worktree, working_dir, status, created_at, terminated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, terminated_at = excluded.terminated_at
	`, rec.ID, rec.Type, rec.Workspace, rec.Project, rec.Worktree, rec.WorkingDir, rec.Status, rec.CreatedAt, rec.TerminatedAt)
	return err
}

// IngestMessage writes or updates one message row, keyed by message id,
// so repeated ingestion of the same message is idempotent. An existing
// is_complete=true row is never reverted to false, and its content blocks
// are left untouched once frozen.
func (s *SQLStore) IngestMessage(ctx context.Context, e Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingComplete bool
	err = tx.QueryRowContext(ctx, `SELECT is_complete FROM messages WHERE id = ?`, e.ID).Scan(&existingComplete)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// fresh insert, fall through
	case err != nil:
		return err
	case existingComplete:
		// frozen: only the sequence bookkeeping may be worth a no-op ack.
		return tx.Commit()
	}

	blocksJSON, err := json.Marshal(e.ContentBlocks)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sequence, role, content_type, content, content_blocks, audio_input_path, audio_output_path, is_complete, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sequence = excluded.sequence,
			content = excluded.content,
			content_blocks = excluded.content_blocks,
			audio_input_path = excluded.audio_input_path,
			audio_output_path = excluded.audio_output_path,
			is_complete = excluded.is_complete
	`, e.ID, e.SessionID, e.Sequence, e.Role, e.ContentType, e.Content, string(blocksJSON), e.AudioInputPath, e.AudioOutputPath, e.IsComplete, e.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Page returns up to limit messages for sessionID with sequence strictly
// less than beforeSequence (or the newest page when beforeSequence is
// nil), ordered oldest first within the page, plus whether older entries
// remain. limit is capped at 50 and defaults to 20.
func (s *SQLStore) Page(ctx context.Context, sessionID string, beforeSequence *int64, limit int) ([]Entry, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if beforeSequence != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, sequence, role, content_type, content, content_blocks, audio_input_path, audio_output_path, is_complete, created_at
			FROM messages WHERE session_id = ? AND sequence < ? ORDER BY sequence DESC LIMIT ?
		`, sessionID, *beforeSequence, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, sequence, role, content_type, content, content_blocks, audio_input_path, audio_output_path, is_complete, created_at
			FROM messages WHERE session_id = ? ORDER BY sequence DESC LIMIT ?
		`, sessionID, limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var blocksJSON string
		var audioIn, audioOut sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Sequence, &e.Role, &e.ContentType, &e.Content, &blocksJSON, &audioIn, &audioOut, &e.IsComplete, &e.CreatedAt); err != nil {
			return nil, false, err
		}
		e.AudioInputPath = audioIn.String
		e.AudioOutputPath = audioOut.String
		if blocksJSON != "" {
			_ = json.Unmarshal([]byte(blocksJSON), &e.ContentBlocks)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	// Return oldest-first within the page, matching what a client appends
	// to the top of a scroll-back view.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, hasMore, nil
}

// Bounds returns the oldest and newest sequence numbers recorded for
// sessionID, used to populate history.response's oldest_sequence /
// newest_sequence fields.
func (s *SQLStore) Bounds(ctx context.Context, sessionID string) (oldest, newest int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(sequence), 0), COALESCE(MAX(sequence), 0) FROM messages WHERE session_id = ?
	`, sessionID).Scan(&oldest, &newest)
	return oldest, newest, err
}

// AddSubscription persists a device/session subscription so it survives a
// workstation restart (a device's rows are read back and re-subscribed
// when that device authenticates again).
func (s *SQLStore) AddSubscription(ctx context.Context, deviceID, sessionID string) error {
	id := deviceID + ":" + sessionID
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, device_id, session_id, subscribed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, deviceID, sessionID, time.Now())
	return err
}

// RemoveSubscription deletes a persisted subscription.
func (s *SQLStore) RemoveSubscription(ctx context.Context, deviceID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE device_id = ? AND session_id = ?`, deviceID, sessionID)
	return err
}

// SubscriptionsForDevice returns every session id deviceID is subscribed
// to, restored on reconnect/auth as restored_subscriptions.
func (s *SQLStore) SubscriptionsForDevice(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM subscriptions WHERE device_id = ?`, deviceID)
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
