package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kavymi/meepo-sub001/internal/watcher"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS watchers (
	id            TEXT PRIMARY KEY,
	kind_type     TEXT NOT NULL,
	kind          TEXT NOT NULL,
	action        TEXT NOT NULL,
	reply_channel TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watchers_active ON watchers(active, created_at, id);
`

const selectColumns = `SELECT id, kind, action, reply_channel, active, created_at FROM watchers`

type SQLiteOptions struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// SQLiteStore persists watchers in a single sqlite table in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string, options SQLiteOptions) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, persistenceError("open", "", fmt.Errorf("create dir: %w", err))
		}
	}
	busyTimeout := options.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	maxOpen := options.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", path, busyTimeout.Milliseconds())
	if path == ":memory:" {
		// Each connection would get its own in-memory database.
		dsn = "file::memory:?cache=shared"
		maxOpen = 1
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, persistenceError("open", "", err)
	}
	db.SetMaxOpenConns(maxOpen)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, persistenceError("open", "", fmt.Errorf("ping: %w", err))
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return persistenceError("init_schema", "", err)
}

func (s *SQLiteStore) Save(ctx context.Context, w watcher.Watcher) error {
	kind, err := watcher.MarshalKind(w.Kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO watchers (id, kind_type, kind, action, reply_channel, active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	kind_type = excluded.kind_type,
	kind = excluded.kind,
	action = excluded.action,
	reply_channel = excluded.reply_channel,
	active = excluded.active,
	created_at = excluded.created_at`,
		w.ID,
		string(w.KindType()),
		string(kind),
		w.Action,
		w.ReplyChannel,
		boolToInt(w.Active),
		formatTime(w.CreatedAt),
	)
	return persistenceError("save", w.ID, err)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*watcher.Watcher, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	w, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("get_by_id", id, err)
	}
	return &w, nil
}

func (s *SQLiteStore) GetActive(ctx context.Context) ([]watcher.Watcher, error) {
	return s.query(ctx, "get_active", selectColumns+` WHERE active = 1 ORDER BY created_at, id`)
}

func (s *SQLiteStore) List(ctx context.Context) ([]watcher.Watcher, error) {
	return s.query(ctx, "list", selectColumns+` ORDER BY created_at, id`)
}

func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	op := "activate"
	if !active {
		op = "deactivate"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE watchers SET active = ? WHERE id = ?`, boolToInt(active), id)
	return persistenceError(op, id, err)
}

func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	return s.SetActive(ctx, id, false)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watchers WHERE id = ?`, id)
	return persistenceError("delete", id, err)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, op, query string) ([]watcher.Watcher, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistenceError(op, "", err)
	}
	defer rows.Close()

	var out []watcher.Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, persistenceError(op, "", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, "", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatcher(row rowScanner) (watcher.Watcher, error) {
	var (
		w         watcher.Watcher
		kind      string
		active    int
		createdAt string
	)
	if err := row.Scan(&w.ID, &kind, &w.Action, &w.ReplyChannel, &active, &createdAt); err != nil {
		return watcher.Watcher{}, err
	}
	decoded, err := watcher.UnmarshalKind([]byte(kind))
	if err != nil {
		return watcher.Watcher{}, fmt.Errorf("decode kind of %s: %w", w.ID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return watcher.Watcher{}, fmt.Errorf("decode created_at of %s: %w", w.ID, err)
	}
	w.Kind = decoded
	w.Active = active != 0
	w.CreatedAt = created
	return w, nil
}

// formatTime uses a fixed-width layout so lexical order matches time order.
func formatTime(value time.Time) string {
	return value.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
