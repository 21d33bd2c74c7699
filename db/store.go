package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "github.com/lib/pq"
)

// Store provides all functions to execute db queries and transactions.
type Store interface {
	GetAPIKey(ctx context.Context, prefix string) (APIKey, error)
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// SQLStore provides all functions to execute SQL queries and transactions.
type SQLStore struct {
	*Queries
	db *sql.DB
}

func NewStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, Queries: NewQueries(db)}
}

// Open connects to postgres and creates the tables when missing.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	store := NewStore(conn)
	if err := store.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (store *SQLStore) Close() error { return store.db.Close() }

// execTx executes a function within a database transaction.
func (store *SQLStore) execTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	q := NewQueries(tx)
	err = fn(q)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// SaveRun stores the run and its cube in one transaction.
func (store *SQLStore) SaveRun(ctx context.Context, run Run) error {
	return store.execTx(ctx, func(q *Queries) error {
		if err := q.InsertRun(ctx, run); err != nil {
			return err
		}
		if len(run.Cube) == 0 {
			return nil
		}
		return q.InsertRunCube(ctx, run.ID, run.Cube)
	})
}

// MemStore keeps everything in memory. It backs the API when no database is
// configured.
type MemStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
	runs map[string]Run
}

func NewMemStore() *MemStore {
	return &MemStore{keys: map[string]APIKey{}, runs: map[string]Run{}}
}

func (m *MemStore) AddAPIKey(k APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.Prefix] = k
}

func (m *MemStore) GetAPIKey(_ context.Context, prefix string) (APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[prefix]
	if !ok {
		return APIKey{}, ErrNotFound
	}
	return k, nil
}

func (m *MemStore) SaveRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s already stored", run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemStore) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r, nil
}

// ListRuns returns the newest runs first, without their cubes.
func (m *MemStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		r.Cube = nil
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
