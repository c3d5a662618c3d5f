// Package history maintains a SQLite index of round and outbox records so
// /history can page without listing the workspace directory on every
// request; /outbox still lists the outbox directory itself. The index is
// a cache, not a source of truth: history/round-NNNNN.json and
// outbox/*.json remain authoritative, and the index can be rebuilt from
// them at any time via Rebuild.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentloom/agentloom/internal/wstore"
)

// Store is a best-effort secondary index over one workspace's history and
// outbox directories.
type Store struct {
	db *sql.DB
}

// Open creates or opens the index database at <workspaceDir>/data/index.db.
func Open(workspaceDir string) (*Store, error) {
	dataDir := filepath.Join(workspaceDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open index.db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate index.db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rounds (
		round INTEGER PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		provider TEXT NOT NULL,
		model TEXT,
		message_count INTEGER NOT NULL,
		tool_call_count INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rounds_timestamp ON rounds(timestamp);

	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IndexRound upserts one round's summary row. Called by the executor loop
// right after wstore.SaveRound succeeds; a failure here is logged and
// swallowed, never propagated, since the index is disposable.
func (s *Store) IndexRound(rec wstore.HistoryRound) error {
	_, err := s.db.Exec(
		`INSERT INTO rounds (round, timestamp, provider, model, message_count, tool_call_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(round) DO UPDATE SET
			timestamp=excluded.timestamp, provider=excluded.provider, model=excluded.model,
			message_count=excluded.message_count, tool_call_count=excluded.tool_call_count`,
		rec.Round, rec.Timestamp, rec.Provider, rec.Model, len(rec.Messages), len(rec.Response.ToolCalls),
	)
	return err
}

// RoundSummary is one indexed row, enough to render a /history listing
// entry without opening the underlying round file.
type RoundSummary struct {
	Round         int       `json:"round"`
	Timestamp     time.Time `json:"timestamp"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	MessageCount  int       `json:"messageCount"`
	ToolCallCount int       `json:"toolCallCount"`
}

// ListRounds returns round summaries newest-first, honoring offset/limit.
func (s *Store) ListRounds(offset, limit int) ([]RoundSummary, error) {
	rows, err := s.db.Query(
		`SELECT round, timestamp, provider, model, message_count, tool_call_count
		 FROM rounds ORDER BY round DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RoundSummary
	for rows.Next() {
		var rs RoundSummary
		var model sql.NullString
		if err := rows.Scan(&rs.Round, &rs.Timestamp, &rs.Provider, &model, &rs.MessageCount, &rs.ToolCallCount); err != nil {
			return nil, fmt.Errorf("scan round row: %w", err)
		}
		rs.Model = model.String
		out = append(out, rs)
	}
	return out, rows.Err()
}

// CountRounds returns the total number of indexed rounds.
func (s *Store) CountRounds() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM rounds`).Scan(&n)
	return n, err
}

// IndexOutbox upserts one outbox message's row.
func (s *Store) IndexOutbox(msg wstore.OutboxMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO outbox (id, source, timestamp) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET source=excluded.source, timestamp=excluded.timestamp`,
		msg.ID, msg.Source, msg.Timestamp,
	)
	return err
}

// RemoveOutbox drops an indexed outbox row after delivery or deletion.
func (s *Store) RemoveOutbox(id string) error {
	_, err := s.db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
	return err
}

// Rebuild clears and repopulates the index from the workspace's history
// and outbox directories. Used on startup when the index holds no rounds
// but history/ does (a missing or emptied index.db); an index that
// merely lags hand edits to history/ is not detected.
func Rebuild(workspaceDir string, s *Store) error {
	if _, err := s.db.Exec(`DELETE FROM rounds`); err != nil {
		return fmt.Errorf("clear rounds: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM outbox`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}

	rounds, err := wstore.ListRoundNumbers(workspaceDir)
	if err != nil {
		return fmt.Errorf("list rounds: %w", err)
	}
	for _, n := range rounds {
		rec, err := wstore.LoadRound(workspaceDir, n)
		if err != nil {
			continue
		}
		if err := s.IndexRound(*rec); err != nil {
			return fmt.Errorf("index round %d: %w", n, err)
		}
	}

	messages, err := wstore.ListOutbox(workspaceDir)
	if err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}
	for _, msg := range messages {
		if err := s.IndexOutbox(msg); err != nil {
			return fmt.Errorf("index outbox %s: %w", msg.ID, err)
		}
	}
	return nil
}
