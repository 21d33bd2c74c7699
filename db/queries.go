package db

import (
	"context"
	"database/sql"
	"errors"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const schema = `
CREATE TABLE IF NOT EXISTS registrar (
	prefix        TEXT PRIMARY KEY,
	token         TEXT NOT NULL,
	email_address TEXT NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL,
	expired_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	asof       DATE NOT NULL,
	status     TEXT NOT NULL,
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS run_cubes (
	run_id TEXT PRIMARY KEY REFERENCES runs (id) ON DELETE CASCADE,
	cube   BYTEA NOT NULL
);
`

func (q *Queries) Migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, schema)
	return err
}

const insertAPIKey = `
INSERT INTO registrar (prefix, token, email_address, generated_at, expired_at)
VALUES ($1, $2, $3, $4, $5)
`

func (q *Queries) InsertAPIKey(ctx context.Context, k APIKey) error {
	_, err := q.db.ExecContext(ctx, insertAPIKey, k.Prefix, k.Token, k.EmailAddress, k.GeneratedAt, k.ExpiredAt)
	return err
}

const getAPIKey = `
SELECT prefix, token, email_address, generated_at, expired_at FROM registrar WHERE prefix = $1
`

func (q *Queries) GetAPIKey(ctx context.Context, prefix string) (APIKey, error) {
	var k APIKey
	err := q.db.QueryRowContext(ctx, getAPIKey, prefix).Scan(&k.Prefix, &k.Token, &k.EmailAddress, &k.GeneratedAt, &k.ExpiredAt)
	return k, notFound(err)
}

const insertRun = `
INSERT INTO runs (id, asof, status, summary, created_at) VALUES ($1, $2, $3, $4, $5)
`

func (q *Queries) InsertRun(ctx context.Context, r Run) error {
	_, err := q.db.ExecContext(ctx, insertRun, r.ID, r.Asof, r.Status, r.Summary, r.CreatedAt)
	return err
}

const insertRunCube = `
INSERT INTO run_cubes (run_id, cube) VALUES ($1, $2)
`

func (q *Queries) InsertRunCube(ctx context.Context, id string, cube []byte) error {
	_, err := q.db.ExecContext(ctx, insertRunCube, id, cube)
	return err
}

const getRun = `
SELECT r.id, r.asof, r.status, r.summary, r.created_at, c.cube
FROM runs r LEFT JOIN run_cubes c ON c.run_id = r.id
WHERE r.id = $1
`

func (q *Queries) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	var status string
	err := q.db.QueryRowContext(ctx, getRun, id).Scan(&r.ID, &r.Asof, &status, &r.Summary, &r.CreatedAt, &r.Cube)
	r.Status = RunStatus(status)
	return r, notFound(err)
}

const listRuns = `
SELECT id, asof, status, summary, created_at FROM runs ORDER BY created_at DESC, id LIMIT $1
`

func (q *Queries) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := q.db.QueryContext(ctx, listRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.Asof, &status, &r.Summary, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
