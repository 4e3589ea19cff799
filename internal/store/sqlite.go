package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

const sqliteUpsert = `INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// SQLiteStore keeps the settings in a single table of settings.db.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func OpenSQLite(dir string, log zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	path := filepath.Join(dir, "settings.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	// one connection serializes writers inside the process
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	log.Debug().Str("path", path).Msg("settings database opened")
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "get", Key: key, Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) Has(key string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM settings WHERE key = ?`, key).Scan(&n); err != nil {
		return false, &Error{Op: "has", Key: key, Err: err}
	}
	return n > 0, nil
}

func (s *SQLiteStore) Set(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.Exec(sqliteUpsert, key, value); err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Apply(b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return &Error{Op: "apply", Err: err}
	}
	for _, o := range b.ops {
		if o.delete {
			_, err = tx.Exec(`DELETE FROM settings WHERE key = ?`, o.key)
		} else {
			v := o.value
			if v == nil {
				v = []byte{}
			}
			_, err = tx.Exec(sqliteUpsert, o.key, v)
		}
		if err != nil {
			_ = tx.Rollback()
			return &Error{Op: "apply", Key: o.key, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "apply", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Flush() error {
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(FULL)`); err != nil {
		return &Error{Op: "flush", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.log.Debug().Msg("closing settings database")
	if err := s.db.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}
