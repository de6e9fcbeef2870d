// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package cache

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SchemaVersion is the current on-disk schema version for the cache
// database. Bumping it without a migration path is a programming error.
const SchemaVersion = "1"

// SQLite is a sqlite-backed Index, grounded on evcxr's module/cache.rs
// LRU design but persisted through database/sql instead of bare files so
// that cache statistics survive process restarts without re-walking the
// cache directory on every ":cache" invocation.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a cache index at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errors.Wrap(err, "open cache database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key          TEXT PRIMARY KEY,
			size_bytes   INTEGER NOT NULL,
			hits         INTEGER NOT NULL DEFAULT 0,
			last_access  INTEGER NOT NULL,
			artifact_dir TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cache_metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create cache schema")
	}

	s := &SQLite{db: db}
	if err := s.ensureSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchemaVersion() error {
	var version string
	err := s.db.QueryRow("SELECT value FROM cache_metadata WHERE key = 'schema_version'").Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(
			"INSERT INTO cache_metadata (key, value) VALUES ('schema_version', ?)",
			SchemaVersion,
		)
		return err
	}
	if err != nil {
		return errors.Wrap(err, "read cache schema version")
	}
	if version != SchemaVersion {
		return errors.Errorf("unsupported cache schema version: %s (expected %s)", version, SchemaVersion)
	}
	return nil
}

// Lookup implements Index.
func (s *SQLite) Lookup(key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e Entry
	var lastAccessUnix int64
	row := s.db.QueryRow(
		"SELECT key, size_bytes, hits, last_access, artifact_dir FROM cache_entries WHERE key = ?",
		key,
	)
	if err := row.Scan(&e.Key, &e.SizeBytes, &e.Hits, &lastAccessUnix, &e.ArtifactDir); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, errors.Wrap(err, "lookup cache entry")
	}
	e.LastAccess = time.Unix(lastAccessUnix, 0)

	_, err := s.db.Exec(
		"UPDATE cache_entries SET hits = hits + 1, last_access = ? WHERE key = ?",
		time.Now().Unix(), key,
	)
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "bump cache entry hit count")
	}
	e.Hits++
	return e, true, nil
}

// Record implements Index.
func (s *SQLite) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastAccess := e.LastAccess
	if lastAccess.IsZero() {
		lastAccess = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, size_bytes, hits, last_access, artifact_dir)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			hits = excluded.hits,
			last_access = excluded.last_access,
			artifact_dir = excluded.artifact_dir
	`, e.Key, e.SizeBytes, e.Hits, lastAccess.Unix(), e.ArtifactDir)
	return errors.Wrap(err, "record cache entry")
}

// Evict implements Index.
func (s *SQLite) Evict(maxBytes int64) (int64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT key, size_bytes, last_access, artifact_dir FROM cache_entries")
	if err != nil {
		return 0, nil, errors.Wrap(err, "list cache entries")
	}
	type row struct {
		key, dir         string
		size, lastAccess int64
	}
	var all []row
	var total int64
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.size, &r.lastAccess, &r.dir); err != nil {
			rows.Close()
			return 0, nil, errors.Wrap(err, "scan cache entry")
		}
		all = append(all, r)
		total += r.size
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	if total <= maxBytes {
		return 0, nil, nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].lastAccess < all[j].lastAccess })

	var freed int64
	var removed []string
	toFree := total - maxBytes
	for _, r := range all {
		if toFree <= 0 {
			break
		}
		if _, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", r.key); err != nil {
			return freed, removed, errors.Wrap(err, "delete cache entry")
		}
		freed += r.size
		toFree -= r.size
		removed = append(removed, r.dir)
	}
	return freed, removed, nil
}

// Stats implements Index.
func (s *SQLite) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	row := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(hits), 0) FROM cache_entries",
	)
	if err := row.Scan(&st.Entries, &st.DiskUsed, &st.TotalHits); err != nil {
		return Stats{}, errors.Wrap(err, "compute cache stats")
	}
	return st, nil
}

// Close implements Index.
func (s *SQLite) Close() error {
	return s.db.Close()
}
