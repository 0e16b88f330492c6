package memstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/driftlock/turnbridge/internal/turns"
)

// Store is a local SQLite-backed persistence layer for merged memory records.
//
// WAL is enabled to support concurrent reads while the merge goroutine writes.
type Store struct {
	db *sql.DB
}

// ErrNotFound is returned when a memory id does not exist.
var ErrNotFound = errors.New("memory not found")

func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("missing db path")
	}
	p = filepath.Clean(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return err
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS memories (
  memory_id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  thread_id TEXT NOT NULL,
  turn_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL DEFAULT '',
  importance TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_workspace ON memories (workspace_id, created_at_unix_ms DESC);
CREATE INDEX IF NOT EXISTS idx_memories_thread ON memories (thread_id, created_at_unix_ms DESC);
`)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Memory is the stored row shape, including the store-assigned id.
type Memory struct {
	MemoryID        string `json:"memory_id"`
	WorkspaceID     string `json:"workspace_id"`
	ThreadID        string `json:"thread_id"`
	TurnID          string `json:"turn_id"`
	Kind            string `json:"kind"`
	Importance      string `json:"importance"`
	Summary         string `json:"summary"`
	Detail          string `json:"detail"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

// CreateMemory inserts a record and returns the assigned id.
func (s *Store) CreateMemory(ctx context.Context, rec turns.MemoryRecord) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(rec.WorkspaceID) == "" || strings.TrimSpace(rec.ThreadID) == "" {
		return "", errors.New("missing workspace_id or thread_id")
	}

	id := "mem-" + uuid.NewString()
	now := time.Now().UnixMilli()
	createdAt := rec.CreatedAt.UnixMilli()
	if rec.CreatedAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memories (
  memory_id, workspace_id, thread_id, turn_id, kind, importance, summary, detail,
  created_at_unix_ms, updated_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		id,
		strings.TrimSpace(rec.WorkspaceID),
		strings.TrimSpace(rec.ThreadID),
		strings.TrimSpace(rec.TurnID),
		strings.TrimSpace(rec.Kind),
		strings.TrimSpace(rec.Importance),
		rec.Summary,
		rec.Detail,
		createdAt,
		now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateMemory rewrites the mutable fields of an existing record. A missing id
// returns ErrNotFound so the caller can fall back to CreateMemory.
func (s *Store) UpdateMemory(ctx context.Context, id string, rec turns.MemoryRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE memories
SET thread_id = ?, turn_id = ?, kind = ?, importance = ?, summary = ?, detail = ?, updated_at_unix_ms = ?
WHERE memory_id = ?
`,
		strings.TrimSpace(rec.ThreadID),
		strings.TrimSpace(rec.TurnID),
		strings.TrimSpace(rec.Kind),
		strings.TrimSpace(rec.Importance),
		rec.Summary,
		rec.Detail,
		time.Now().UnixMilli(),
		id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMemory fetches one record by id; nil result means not found.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing memory id")
	}

	var m Memory
	err := s.db.QueryRowContext(ctx, `
SELECT memory_id, workspace_id, thread_id, turn_id, kind, importance, summary, detail,
  created_at_unix_ms, updated_at_unix_ms
FROM memories
WHERE memory_id = ?
`, id).Scan(
		&m.MemoryID,
		&m.WorkspaceID,
		&m.ThreadID,
		&m.TurnID,
		&m.Kind,
		&m.Importance,
		&m.Summary,
		&m.Detail,
		&m.CreatedAtUnixMs,
		&m.UpdatedAtUnixMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListByThread returns the thread's records, newest first.
func (s *Store) ListByThread(ctx context.Context, threadID string, limit int) ([]Memory, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread_id")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT memory_id, workspace_id, thread_id, turn_id, kind, importance, summary, detail,
  created_at_unix_ms, updated_at_unix_ms
FROM memories
WHERE thread_id = ?
ORDER BY created_at_unix_ms DESC, memory_id DESC
LIMIT ?
`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Memory, 0, limit)
	for rows.Next() {
		var m Memory
		if err := rows.Scan(
			&m.MemoryID,
			&m.WorkspaceID,
			&m.ThreadID,
			&m.TurnID,
			&m.Kind,
			&m.Importance,
			&m.Summary,
			&m.Detail,
			&m.CreatedAtUnixMs,
			&m.UpdatedAtUnixMs,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
