package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Store wraps the node's persistent state: the cold operation log, the
// path metadata table, and document snapshots. Writers are serialized per
// document by the engine; readers run concurrently.
type Store struct {
	db *sql.DB
}

// Init opens the SQLite database at baseDir/weave.db, creating it and
// running migrations if needed. The baseDir parameter allows tests to use
// t.TempDir() instead of ~/.weave.
func Init(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	dbPath := filepath.Join(baseDir, "weave.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := getUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS ops (
		  doc_id  TEXT NOT NULL,
		  seq     INTEGER NOT NULL,
		  record  BLOB NOT NULL,
		  PRIMARY KEY (doc_id, seq)
		);

		CREATE TABLE IF NOT EXISTS meta (
		  path              TEXT PRIMARY KEY,
		  doc_id            TEXT NOT NULL,
		  current_version   INTEGER NOT NULL,
		  earliest_retained INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_meta_doc_id ON meta(doc_id);

		CREATE TABLE IF NOT EXISTS snapshots (
		  doc_id  TEXT NOT NULL,
		  version INTEGER NOT NULL,
		  content TEXT NOT NULL,
		  PRIMARY KEY (doc_id, version)
		);

		CREATE TABLE IF NOT EXISTS node_state (
		  key   TEXT PRIMARY KEY,
		  value INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

func getUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// AppendOp persists an encoded operation record at (docID, seq).
func (s *Store) AppendOp(docID string, seq uint64, record []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO ops (doc_id, seq, record) VALUES (?, ?, ?)",
		docID, int64(seq), record)
	if err != nil {
		return fmt.Errorf("failed to append op %d for %s: %w", seq, docID, err)
	}
	return nil
}

// OpRange returns the encoded records for sequence numbers in [from, to],
// ordered by seq.
func (s *Store) OpRange(docID string, from, to uint64) ([][]byte, error) {
	rows, err := s.db.Query(
		"SELECT record FROM ops WHERE doc_id = ? AND seq >= ? AND seq <= ? ORDER BY seq",
		docID, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("failed to read op range: %w", err)
	}
	defer rows.Close()

	var records [][]byte
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteOps removes all persisted operations for a document.
func (s *Store) DeleteOps(docID string) error {
	_, err := s.db.Exec("DELETE FROM ops WHERE doc_id = ?", docID)
	return err
}

// Meta is one row of the path metadata table.
type Meta struct {
	Path             string
	DocID            string
	CurrentVersion   uint64
	EarliestRetained uint64
}

// PutMeta inserts or updates the metadata row for a path.
func (s *Store) PutMeta(m Meta) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (path, doc_id, current_version, earliest_retained)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		  doc_id = excluded.doc_id,
		  current_version = excluded.current_version,
		  earliest_retained = excluded.earliest_retained`,
		m.Path, m.DocID, int64(m.CurrentVersion), int64(m.EarliestRetained))
	if err != nil {
		return fmt.Errorf("failed to put meta for %s: %w", m.Path, err)
	}
	return nil
}

// GetMeta returns the metadata row for a path, or (nil, nil) if absent.
func (s *Store) GetMeta(path string) (*Meta, error) {
	var m Meta
	var version, earliest int64
	err := s.db.QueryRow(
		"SELECT path, doc_id, current_version, earliest_retained FROM meta WHERE path = ?",
		path).Scan(&m.Path, &m.DocID, &version, &earliest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.CurrentVersion = uint64(version)
	m.EarliestRetained = uint64(earliest)
	return &m, nil
}

// DeleteMeta removes the metadata row for a path.
func (s *Store) DeleteMeta(path string) error {
	_, err := s.db.Exec("DELETE FROM meta WHERE path = ?", path)
	return err
}

// RenameMeta moves a metadata row to a new path. The document id column is
// untouched, so identity and history survive the rename.
func (s *Store) RenameMeta(from, to string) error {
	_, err := s.db.Exec("UPDATE meta SET path = ? WHERE path = ?", to, from)
	return err
}

// ListMeta returns all metadata rows ordered by path.
func (s *Store) ListMeta() ([]Meta, error) {
	rows, err := s.db.Query(
		"SELECT path, doc_id, current_version, earliest_retained FROM meta ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var version, earliest int64
		if err := rows.Scan(&m.Path, &m.DocID, &version, &earliest); err != nil {
			return nil, err
		}
		m.CurrentVersion = uint64(version)
		m.EarliestRetained = uint64(earliest)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// PutSnapshot persists document content keyed by version.
func (s *Store) PutSnapshot(docID string, version uint64, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (doc_id, version, content) VALUES (?, ?, ?)
		ON CONFLICT(doc_id, version) DO UPDATE SET content = excluded.content`,
		docID, int64(version), content)
	if err != nil {
		return fmt.Errorf("failed to put snapshot %d for %s: %w", version, docID, err)
	}
	return nil
}

// LatestSnapshot returns the greatest snapshot with version <= maxVersion.
// ok is false when no such snapshot exists.
func (s *Store) LatestSnapshot(docID string, maxVersion uint64) (version uint64, content string, ok bool, err error) {
	var v int64
	err = s.db.QueryRow(
		"SELECT version, content FROM snapshots WHERE doc_id = ? AND version <= ? ORDER BY version DESC LIMIT 1",
		docID, int64(maxVersion)).Scan(&v, &content)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return uint64(v), content, true, nil
}

// GetNodeState reads a node-local counter, 0 if unset.
func (s *Store) GetNodeState(key string) (uint64, error) {
	var v int64
	err := s.db.QueryRow("SELECT value FROM node_state WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// SetNodeState writes a node-local counter.
func (s *Store) SetNodeState(key string, value uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO node_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, int64(value))
	return err
}

// DeleteSnapshots removes all snapshots for a document.
func (s *Store) DeleteSnapshots(docID string) error {
	_, err := s.db.Exec("DELETE FROM snapshots WHERE doc_id = ?", docID)
	return err
}
