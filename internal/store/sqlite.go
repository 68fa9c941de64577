package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout sorts lexicographically, so range filters can compare strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore keeps entry metadata, chunks, embeddings and chat history in SQLite
// and entry bodies as markdown files under journalDir.
type SQLiteStore struct {
	db         *sql.DB
	journalDir string
	logger     *slog.Logger
}

func NewSQLiteStore(dataSourceName, journalDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.Contains(dataSourceName, "?") {
		dataSourceName += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := os.MkdirAll(journalDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	store := &SQLiteStore{db: db, journalDir: journalDir, logger: logger}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// JournalDir is the directory holding the markdown files.
func (s *SQLiteStore) JournalDir() string {
	return s.journalDir
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS entries (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '', -- mirror of the markdown body for text search
        file_path TEXT NOT NULL,
        tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
        folder TEXT NOT NULL DEFAULT '',
        favorite BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries (created_at);

    CREATE TABLE IF NOT EXISTS entry_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        entry_id TEXT NOT NULL,
        chunk_index INTEGER NOT NULL,
        chunk_text TEXT NOT NULL,
        start_offset INTEGER NOT NULL,
        end_offset INTEGER NOT NULL,
        embedding BLOB,                   -- little-endian float32, NULL while pending
        dims INTEGER NOT NULL DEFAULT 0,
        UNIQUE (entry_id, chunk_index)
    );
    CREATE INDEX IF NOT EXISTS idx_entry_chunks_pending ON entry_chunks (id) WHERE embedding IS NULL;

    CREATE TABLE IF NOT EXISTS embedding_cache (
        text_hash TEXT NOT NULL,
        model TEXT NOT NULL,
        embedding BLOB NOT NULL,
        dims INTEGER NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (text_hash, model)
    );

    CREATE TABLE IF NOT EXISTS personas (
        id TEXT PRIMARY KEY, -- UUID
        name TEXT NOT NULL UNIQUE,
        system_prompt TEXT NOT NULL,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY, -- UUID
        title TEXT,
        persona_id TEXT,
        context_summary TEXT,
        date_from TEXT,
        date_to TEXT,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chat_messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        token_count INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL,
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id)
    );
    CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, created_at);

    CREATE TABLE IF NOT EXISTS message_references (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        message_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        entry_id TEXT NOT NULL,
        chunk_index INTEGER,
        score REAL NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        snippet TEXT NOT NULL DEFAULT '',
        entry_date TEXT NOT NULL,
        FOREIGN KEY (message_id) REFERENCES chat_messages (id)
    );
    CREATE INDEX IF NOT EXISTS idx_message_references_message ON message_references (message_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", v, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func scanNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
