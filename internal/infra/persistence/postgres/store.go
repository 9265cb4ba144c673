// Package postgres provides a Postgres-backed persistent DataStore that
// mirrors the in-memory semantics, snapshotting state into a JSONB table
// after every successful mutation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"studycore/internal/infra/persistence/memory"
	"studycore/pkg/domain"
)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/studycore?sslmode=disable"
)

// Store persists datastore state to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

var _ domain.DataStore = (*Store)(nil)

var buckets = []string{"studies", "trials", "suggest_operations", "early_stopping_operations", "trial_seq", "suggest_seq", "early_seq"}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot table exists and hydrates the
// in-memory store from any existing snapshot.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(memory.WithCommitHook(s.persist))
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
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
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
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
