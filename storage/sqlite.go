package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
  k BLOB PRIMARY KEY,
  v BLOB NOT NULL
) WITHOUT ROWID;
`

// querier is satisfied by *sql.DB and by the connection holding an
// open transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a Store persisted in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	conn *sql.Conn // set while a transaction is open
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("storage: empty sqlite path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "storage: create sqlite dir")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite")
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "storage: set journal_mode=wal")
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=FULL;"); err != nil {
		return errors.Wrap(err, "storage: set synchronous=full")
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return errors.Wrap(err, "storage: set busy_timeout")
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return errors.Wrap(err, "storage: create kv table")
	}
	return nil
}

func (s *SQLiteStore) Get(key []byte) ([]byte, error) {
	var v []byte
	err := s.q().QueryRowContext(context.Background(), "SELECT v FROM kv WHERE k = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: get")
	}
	return v, nil
}

func (s *SQLiteStore) Has(key []byte) (bool, error) {
	var one int
	err := s.q().QueryRowContext(context.Background(), "SELECT 1 FROM kv WHERE k = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "storage: has")
	}
	return true, nil
}

func (s *SQLiteStore) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.q().ExecContext(context.Background(), "INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", key, value)
	return errors.Wrap(err, "storage: put")
}

func (s *SQLiteStore) Delete(key []byte) error {
	_, err := s.q().ExecContext(context.Background(), "DELETE FROM kv WHERE k = ?", key)
	return errors.Wrap(err, "storage: delete")
}

func (s *SQLiteStore) rangeQuery(prefix []byte) (string, []any) {
	if len(prefix) == 0 {
		return "1 = 1", nil
	}
	end := prefixEnd(prefix)
	if end == nil {
		return "k >= ?", []any{prefix}
	}
	return "k >= ? AND k < ?", []any{prefix, end}
}

func (s *SQLiteStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	type entry struct{ k, v []byte }

	where, args := s.rangeQuery(prefix)
	rows, err := s.q().QueryContext(context.Background(), "SELECT k, v FROM kv WHERE "+where+" ORDER BY k", args...)
	if err != nil {
		return errors.Wrap(err, "storage: iterate")
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.k, &e.v); err != nil {
			_ = rows.Close()
			return errors.Wrap(err, "storage: scan")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return errors.Wrap(err, "storage: iterate")
	}
	_ = rows.Close()

	for _, e := range entries {
		if err := fn(e.k, e.v); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) DeletePrefix(prefix []byte) error {
	where, args := s.rangeQuery(prefix)
	_, err := s.q().ExecContext(context.Background(), "DELETE FROM kv WHERE "+where, args...)
	return errors.Wrap(err, "storage: delete prefix")
}

func (s *SQLiteStore) q() querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn
	}
	return s.db
}

func (s *SQLiteStore) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrTxnActive
	}

	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "storage: acquire conn")
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "storage: begin")
	}
	s.conn = conn
	return nil
}

func (s *SQLiteStore) Commit() error {
	return s.finish("COMMIT;")
}

func (s *SQLiteStore) Rollback() error {
	return s.finish("ROLLBACK;")
}

// finish ends the open transaction with stmt and releases its conn. A
// failed COMMIT is rolled back.
func (s *SQLiteStore) finish(stmt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNoTxn
	}
	conn := s.conn
	s.conn = nil
	defer conn.Close()

	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		if stmt != "ROLLBACK;" {
			_, _ = conn.ExecContext(ctx, "ROLLBACK;")
		}
		return errors.Wrapf(err, "storage: %s", strings.ToLower(strings.TrimSuffix(stmt, ";")))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.conn != nil {
		_, _ = s.conn.ExecContext(context.Background(), "ROLLBACK;")
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}
