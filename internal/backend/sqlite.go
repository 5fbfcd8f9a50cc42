package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// SQLiteName is the registry name of the SQLite backend.
const SQLiteName = "sqlite"

const (
	codecRaw    = "raw"
	codecSnappy = "snappy"
)

func init() {
	Register(SQLiteName, Capabilities{Durable: true, Persistent: true, Compression: true},
		func(opts Options) (Backend, error) {
			return OpenSQLite(opts)
		})
}

// SQLite stores pairs in a single WITHOUT ROWID table. Durable mode runs
// with synchronous=FULL so each autocommitted Put is synced; otherwise
// synchronous=OFF leaves flushing to the OS.
type SQLite struct {
	db       *sql.DB
	putStmt  *sql.Stmt
	getStmt  *sql.Stmt
	compress bool
	path     string
	logger   *zap.Logger
}

// OpenSQLite opens or creates kv.db under opts.Path. The value codec is
// recorded on first open; reopening with a different Compression setting
// fails instead of misreading values.
func OpenSQLite(opts Options) (*SQLite, error) {
	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	sync := "OFF"
	if opts.Durable {
		sync = "FULL"
	}
	dbPath := filepath.Join(opts.Path, "kv.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous="+sync)
	if err != nil {
		return nil, kerrors.NewBackendError(kerrors.CodeOpenFailed, "failed to open sqlite database", err)
	}
	db.SetMaxOpenConns(1) // Single writer, single reader: the benchmark is sequential
	db.SetMaxIdleConns(1)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SQLite{
		db:       db,
		compress: opts.Compression,
		path:     dbPath,
		logger:   logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, kerrors.NewBackendError(kerrors.CodeOpenFailed, "failed to initialize sqlite schema", err)
	}

	if s.putStmt, err = db.Prepare(`INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)`); err != nil {
		db.Close()
		return nil, kerrors.NewBackendError(kerrors.CodeOpenFailed, "failed to prepare put statement", err)
	}
	if s.getStmt, err = db.Prepare(`SELECT v FROM kv WHERE k = ?`); err != nil {
		s.putStmt.Close()
		db.Close()
		return nil, kerrors.NewBackendError(kerrors.CodeOpenFailed, "failed to prepare get statement", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			k BLOB PRIMARY KEY,
			v BLOB NOT NULL
		) WITHOUT ROWID;
		CREATE TABLE IF NOT EXISTS meta (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`); err != nil {
		return err
	}

	want := codecRaw
	if s.compress {
		want = codecSnappy
	}

	var have string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE name = 'codec'`).Scan(&have)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO meta (name, value) VALUES ('codec', ?)`, want)
		return err
	case err != nil:
		return err
	case have != want:
		return fmt.Errorf("database was written with codec %q, opened with %q", have, want)
	}
	return nil
}

func (s *SQLite) Put(key, value []byte) error {
	if s.compress {
		value = snappy.Encode(nil, value)
	}
	if _, err := s.putStmt.Exec(key, value); err != nil {
		return putError(err)
	}
	return nil
}

func (s *SQLite) Get(key []byte) ([]byte, error) {
	var v []byte
	if err := s.getStmt.QueryRow(key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError(key)
		}
		return nil, getError(err)
	}
	if s.compress {
		decoded, err := snappy.Decode(nil, v)
		if err != nil {
			return nil, getError(fmt.Errorf("corrupt snappy value: %w", err))
		}
		return decoded, nil
	}
	return v, nil
}

func (s *SQLite) Close() error {
	s.getStmt.Close()
	s.putStmt.Close()
	if err := s.db.Close(); err != nil {
		return kerrors.NewBackendError(kerrors.CodeCloseFailed, "failed to close sqlite", err)
	}
	s.logger.Debug("sqlite closed", zap.String("path", s.path))
	return nil
}
