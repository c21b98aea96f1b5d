// Package storage provides SQLite persistence.
//
// Information Hiding:
// - SQLite connection management hidden behind interfaces
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/gamemaster/llm"
)

// SqliteStorage implements WorldStore, ConversationStorage and
// SnapshotStorage on one SQLite database.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSqlite(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
// Every connection to :memory: is a distinct database, so the pool is
// pinned to a single connection.
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSqlite(db)
}

func newSqlite(db *sql.DB) (*SqliteStorage, error) {
	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			name TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, message_index)
		);

		CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			genre TEXT NOT NULL,
			tone TEXT NOT NULL,
			world_intro TEXT NOT NULL DEFAULT '',
			realism INTEGER NOT NULL DEFAULT 0,
			power_fantasy INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS players (
			campaign_id TEXT PRIMARY KEY REFERENCES campaigns(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			race TEXT NOT NULL DEFAULT '',
			class TEXT NOT NULL DEFAULT '',
			backstory TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}',
			skills TEXT NOT NULL DEFAULT '{}',
			inventory TEXT NOT NULL DEFAULT '[]',
			limitations TEXT NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS npcs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			motivation TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			UNIQUE(campaign_id, name)
		);

		CREATE TABLE IF NOT EXISTS quests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			UNIQUE(campaign_id, name)
		);

		CREATE TABLE IF NOT EXISTS world_flags (
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (campaign_id, key)
		);

		CREATE TABLE IF NOT EXISTS rumors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS journal_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			turn_number INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dialogue_contexts (
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			npc_id INTEGER NOT NULL REFERENCES npcs(id) ON DELETE CASCADE,
			topic TEXT NOT NULL,
			summary TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (campaign_id, npc_id)
		);

		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			turn_number INTEGER NOT NULL,
			player_input TEXT NOT NULL,
			narration TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(campaign_id, turn_number)
		);

		CREATE TABLE IF NOT EXISTS memory_chunks (
			scope_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			text TEXT NOT NULL,
			vector BLOB NOT NULL,
			PRIMARY KEY (scope_id, seq)
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// WorldStore implementation

// WithTx runs fn inside a transaction. The deferred rollback is a no-op
// after a successful commit and also fires while a panic unwinds.
func (s *SqliteStorage) WithTx(ctx context.Context, fn func(tx WorldTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Campaigns lists campaigns, newest first.
func (s *SqliteStorage) Campaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, genre, tone, world_intro, realism, power_fantasy, created_at
		FROM campaigns ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}
	return campaigns, nil
}

// DeleteCampaign removes a campaign, its dependent rows and its memory
// snapshot. Deleting an unknown campaign is not an error.
func (s *SqliteStorage) DeleteCampaign(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_chunks WHERE scope_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete campaign memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resettable lists the per-campaign tables cleared by ResetCampaign.
// dialogue_contexts goes first; it references npcs.
var resettable = []string{
	"dialogue_contexts", "journal_entries", "rumors", "world_flags",
	"quests", "npcs", "turns",
}

// ResetCampaign clears world state, turns and the memory snapshot of a
// campaign. The campaign row and player character survive.
func (s *SqliteStorage) ResetCampaign(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up campaign: %w", err)
	}
	if exists == 0 {
		return notFound("campaign", id)
	}
	for _, table := range resettable {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE campaign_id = ?", id); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_chunks WHERE scope_id = ?", id); err != nil {
		return fmt.Errorf("failed to reset campaign memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ConversationStorage implementation

func (s *SqliteStorage) ensureSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id) VALUES (?)",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// Save saves conversation history for a session.
func (s *SqliteStorage) Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureSession(ctx, tx, sessionID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, message_index, role, content, tool_calls, tool_call_id, name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range history {
		var toolCalls any
		if len(msg.ToolCalls) > 0 {
			encoded, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = string(encoded)
		}
		_, err = stmt.ExecContext(ctx, sessionID, i, msg.Role, msg.Content,
			toolCalls, nullable(msg.ToolCallID), nullable(msg.Name))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *SqliteStorage) Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, name
		FROM messages WHERE session_id = ? ORDER BY message_index ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.ChatMessage{}
	for rows.Next() {
		var msg llm.ChatMessage
		var toolCalls, toolCallID, name sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &toolCallID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		msg.ToolCallID = toolCallID.String
		msg.Name = name.String
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// Delete deletes conversation history for a session.
func (s *SqliteStorage) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions lists all session IDs, most recently updated first.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// Exists checks if a session exists.
func (s *SqliteStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?",
		sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return count > 0, nil
}

// SnapshotStorage implementation

// SaveSnapshot replaces the stored chunks of a scope.
func (s *SqliteStorage) SaveSnapshot(ctx context.Context, scopeID string, chunks []StoredChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_chunks WHERE scope_id = ?", scopeID); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO memory_chunks (scope_id, seq, text, vector) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, scopeID, c.Seq, c.Text, encodeVector(c.Vector)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadSnapshot loads the stored chunks of a scope in sequence order.
func (s *SqliteStorage) LoadSnapshot(ctx context.Context, scopeID string) ([]StoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, text, vector FROM memory_chunks WHERE scope_id = ? ORDER BY seq ASC",
		scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	chunks := []StoredChunk{}
	for rows.Next() {
		c := StoredChunk{ScopeID: scopeID}
		var blob []byte
		if err := rows.Scan(&c.Seq, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if c.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Seq, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

// DeleteSnapshot removes the stored chunks of a scope.
func (s *SqliteStorage) DeleteSnapshot(ctx context.Context, scopeID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_chunks WHERE scope_id = ?", scopeID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// Verify SqliteStorage implements all interfaces
var (
	_ WorldStore          = (*SqliteStorage)(nil)
	_ ConversationStorage = (*SqliteStorage)(nil)
	_ SnapshotStorage     = (*SqliteStorage)(nil)
)
