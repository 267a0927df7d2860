package cachestore

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite is a Store backed by a local SQLite database, grounded on the
// reference proxy's own SQLiteCache. A single write mutex serializes
// writes, matching go-sqlite's single-writer expectations under WAL
// mode.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (creating if needed) a SQLite-backed Store at filename.
// An empty filename opens a shared in-memory database, useful for tests
// and single-process deployments that don't need durability.
func NewSQLite(filename string) (*SQLite, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			requested_at INTEGER,
			received_at INTEGER,
			policy BLOB,
			body BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS cache_expires_idx ON cache (expires)`,
		`PRAGMA journal_mode=WAL`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) All(prefix string) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, expires, requested_at, received_at, policy, body
		FROM cache WHERE key LIKE ?`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var exp, req, rec int64
		if err := rows.Scan(&e.Key, &exp, &req, &rec, &e.Policy, &e.Body); err != nil {
			return nil, err
		}
		e.Expires = time.Unix(exp, 0)
		e.RequestedAt = time.Unix(req, 0)
		e.ReceivedAt = time.Unix(rec, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) AllKeys(prefix string, cb func(string)) {
	rows, err := s.db.Query("SELECT key FROM cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if rows.Scan(&key) == nil {
			cb(key)
		}
	}
}

func (s *SQLite) Get(key string) (Entry, bool, error) {
	var e Entry
	var exp, req, rec int64
	err := s.db.QueryRow(`SELECT key, expires, requested_at, received_at, policy, body
		FROM cache WHERE key = ?`, key).Scan(&e.Key, &exp, &req, &rec, &e.Policy, &e.Body)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.Expires = time.Unix(exp, 0)
	e.RequestedAt = time.Unix(req, 0)
	e.ReceivedAt = time.Unix(rec, 0)
	if !e.Expires.IsZero() && time.Now().After(e.Expires) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *SQLite) Put(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, expires, requested_at, received_at, policy, body) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Key, e.Expires.Unix(), e.RequestedAt.Unix(), e.ReceivedAt.Unix(), e.Policy, e.Body)
	return err
}

func (s *SQLite) Oldest(prefix string) (string, time.Time, error) {
	var key string
	var expires int64
	err := s.db.QueryRow(`SELECT key, expires FROM cache
		WHERE key LIKE ? AND expires > 0 ORDER BY expires ASC LIMIT 1`,
		prefix+"%").Scan(&key, &expires)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return key, time.Unix(expires, 0), nil
}

func (s *SQLite) Purge(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s *SQLite) Has(key string) bool {
	var one int
	return s.db.QueryRow("SELECT 1 FROM cache WHERE key = ?", key).Scan(&one) == nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
