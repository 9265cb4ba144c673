// Package sqlite provides a persistent DataStore that snapshots the in-memory
// state to a single SQLite table as JSON blobs after every successful
// mutation. The transactional semantics are those of the embedded memory
// store; SQLite only adds durability.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"studycore/internal/infra/persistence/memory"
	"studycore/pkg/domain"
)

// Store persists datastore state to a SQLite file.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ domain.DataStore = (*Store)(nil)

var buckets = []string{"studies", "trials", "suggest_operations", "early_stopping_operations", "trial_seq", "suggest_seq", "early_seq"}

// NewStore opens (or creates) the database at path and hydrates the
// in-memory state from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "studycore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(memory.WithCommitHook(s.persist))
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	payloads := map[string][]byte{}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		payloads[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(payloads) == 0 {
		return nil
	}

	var snap domain.Snapshot
	for bucket, payload := range payloads {
		var dst any
		switch bucket {
		case "studies":
			dst = &snap.Studies
		case "trials":
			dst = &snap.Trials
		case "suggest_operations":
			dst = &snap.SuggestOps
		case "early_stopping_operations":
			dst = &snap.EarlyStoppingOps
		case "trial_seq":
			dst = &snap.TrialSeq
		case "suggest_seq":
			dst = &snap.SuggestOpSeq
		case "early_seq":
			dst = &snap.EarlyStoppingSeq
		default:
			continue
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	s.ImportState(snap)
	return nil
}

func (s *Store) persist(snap domain.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var src any
		switch bucket {
		case "studies":
			src = snap.Studies
		case "trials":
			src = snap.Trials
		case "suggest_operations":
			src = snap.SuggestOps
		case "early_stopping_operations":
			src = snap.EarlyStoppingOps
		case "trial_seq":
			src = snap.TrialSeq
		case "suggest_seq":
			src = snap.SuggestOpSeq
		case "early_seq":
			src = snap.EarlyStoppingSeq
		}
		data, err := json.Marshal(src)
		if err != nil {
			retErr = fmt.Errorf("encode %s: %w", bucket, err)
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
