package session

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS surface_state (
	surface_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// cacheSize bounds the in-memory snapshot cache.
const cacheSize = 256

// Store persists surface snapshots in SQLite.
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	cache *lru.Cache[string, Snapshot]
}

// NewStore opens (creating if needed) the snapshot database at path.
// Use ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating session schema: %w", err)
	}

	cache, err := lru.New[string, Snapshot](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, cache: cache}, nil
}

// Put stores the snapshot for a surface, replacing any previous one.
func (s *Store) Put(surfaceID string, snap Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO surface_state (surface_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(surface_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		surfaceID, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}

	s.cache.Add(surfaceID, snap)
	return nil
}

// Get returns the stored snapshot for a surface.
func (s *Store) Get(surfaceID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.cache.Get(surfaceID); ok {
		return snap, nil
	}

	var data string
	err := s.db.QueryRow(
		`SELECT data FROM surface_state WHERE surface_id = ?`, surfaceID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading snapshot: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, err
	}

	s.cache.Add(surfaceID, snap)
	return snap, nil
}

// Delete removes the snapshot for a surface. Deleting a missing snapshot
// is a no-op.
func (s *Store) Delete(surfaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(surfaceID)
	_, err := s.db.Exec(`DELETE FROM surface_state WHERE surface_id = ?`, surfaceID)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// SurfaceIDs returns the ids of all stored snapshots, for restoration at
// startup.
func (s *Store) SurfaceIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT surface_id FROM surface_state ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
