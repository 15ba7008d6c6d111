// Package store persists caretaker history entries in SQLite, capped at the
// most recent conversations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/insight"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_history (
	session_id       TEXT PRIMARY KEY,
	started_at       INTEGER NOT NULL,
	ended_at         INTEGER NOT NULL,
	duration_seconds INTEGER NOT NULL,
	transcript       TEXT NOT NULL,
	mood             TEXT NOT NULL DEFAULT '',
	sense_index      INTEGER NOT NULL,
	insights_json    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_conversation_history_ended_at
	ON conversation_history (ended_at DESC);
`

type Store struct {
	db    *sql.DB
	limit int
}

// Open opens (creating if needed) the history database at path. limit bounds
// how many entries survive pruning.
func Open(path string, limit int) (*Store, error) {
	if limit <= 0 {
		limit = 10
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, limit: limit}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts one history entry, then prunes everything older than the
// retained window.
func (s *Store) Append(ctx context.Context, entry conversation.HistoryEntry) error {
	insights, err := json.Marshal(entry.Insights)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	if entry.Insights == nil {
		insights = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_history
			(session_id, started_at, ended_at, duration_seconds, transcript, mood, sense_index, insights_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.SessionID, entry.StartedAt.UnixMilli(), entry.EndedAt.UnixMilli(),
		int(entry.Duration/time.Second), entry.Transcript, string(entry.Mood),
		entry.SenseIndex, string(insights))
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM conversation_history
		WHERE session_id NOT IN (
			SELECT session_id FROM conversation_history
			ORDER BY ended_at DESC
			LIMIT ?
		)
	`, s.limit)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}

	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]conversation.HistoryEntry, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, started_at, ended_at, duration_seconds, transcript, mood, sense_index, insights_json
		FROM conversation_history
		ORDER BY ended_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []conversation.HistoryEntry
	for rows.Next() {
		var (
			entry              conversation.HistoryEntry
			startedAt, endedAt int64
			durationSeconds    int64
			mood               string
			insightsJSON       string
		)
		if err := rows.Scan(&entry.SessionID, &startedAt, &endedAt, &durationSeconds,
			&entry.Transcript, &mood, &entry.SenseIndex, &insightsJSON); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.StartedAt = time.UnixMilli(startedAt)
		entry.EndedAt = time.UnixMilli(endedAt)
		entry.Duration = time.Duration(durationSeconds) * time.Second
		entry.Mood = insight.Mood(mood)
		if insightsJSON != "" {
			if err := json.Unmarshal([]byte(insightsJSON), &entry.Insights); err != nil {
				return nil, fmt.Errorf("decode insights for %s: %w", entry.SessionID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
