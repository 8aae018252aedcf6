package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cosmopipe/internal/errors"
	"cosmopipe/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultBatchSize is the number of samples buffered before an insert
const DefaultBatchSize = 500

// schema creates the tables the Postgres sink writes to
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sampler_runs (
		run_id     UUID PRIMARY KEY,
		columns    TEXT[] NOT NULL,
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sampler_samples (
		run_id UUID NOT NULL REFERENCES sampler_runs(run_id) ON DELETE CASCADE,
		seq    INTEGER NOT NULL,
		vals   DOUBLE PRECISION[] NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS sampler_finals (
		run_id UUID NOT NULL REFERENCES sampler_runs(run_id) ON DELETE CASCADE,
		key    TEXT NOT NULL,
		value  TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	)`,
}

// Connect opens a PostgreSQL connection
func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	return db, nil
}

// Migrate creates the sink's tables if they do not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.DatabaseError("failed to create sampler tables", err)
		}
	}
	return nil
}

// Postgres stores one run's samples in PostgreSQL. Samples are buffered and
// written in a transaction on Flush or when the buffer is full. The caller
// owns db.
type Postgres struct {
	db        *sqlx.DB
	ctx       context.Context
	RunID     uuid.UUID
	BatchSize int

	columns []ports.Column
	meta    map[string]interface{}
	pending [][]float64
	seq     int
	created bool
	closed  bool
}

// NewPostgres creates a sink for a new run
func NewPostgres(ctx context.Context, db *sqlx.DB, runID uuid.UUID) *Postgres {
	return &Postgres{
		db:        db,
		ctx:       ctx,
		RunID:     runID,
		BatchSize: DefaultBatchSize,
		meta:      map[string]interface{}{},
	}
}

func (p *Postgres) AddColumn(name, comment string) error {
	if p.created {
		return errors.InternalError(fmt.Sprintf("column %s added after the run was stored", name))
	}
	p.columns = append(p.columns, ports.Column{Name: name, Comment: comment})
	return nil
}

func (p *Postgres) Metadata(key string, value interface{}) error {
	if p.created {
		return errors.InternalError(fmt.Sprintf("metadata %s added after the run was stored", key))
	}
	p.meta[key] = value
	return nil
}

func (p *Postgres) Parameters(params, extra []float64, samplerOutputs ...float64) error {
	row := make([]float64, 0, len(params)+len(extra)+len(samplerOutputs))
	row = append(append(append(row, params...), extra...), samplerOutputs...)
	if len(row) != len(p.columns) {
		return errors.InvalidInput(fmt.Sprintf("sample has %d values for %d columns", len(row), len(p.columns)))
	}
	p.pending = append(p.pending, row)
	if len(p.pending) >= p.BatchSize {
		return p.Flush()
	}
	return nil
}

func (p *Postgres) Final(key string, value interface{}) error {
	if err := p.Flush(); err != nil {
		return err
	}
	query := `
		INSERT INTO sampler_finals (run_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := p.db.ExecContext(p.ctx, query, p.RunID, key, fmt.Sprint(value)); err != nil {
		return errors.DatabaseError("failed to store final value "+key, err)
	}
	return nil
}

// Flush stores the run on first use and inserts the buffered samples
func (p *Postgres) Flush() error {
	if p.created && len(p.pending) == 0 {
		return nil
	}
	tx, err := p.db.BeginTxx(p.ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if !p.created {
		if err := p.insertRun(tx); err != nil {
			return err
		}
	}
	stmt, err := tx.PreparexContext(p.ctx, `INSERT INTO sampler_samples (run_id, seq, vals) VALUES ($1, $2, $3)`)
	if err != nil {
		return errors.DatabaseError("failed to prepare sample insert", err)
	}
	defer stmt.Close()
	for i, row := range p.pending {
		if _, err := stmt.ExecContext(p.ctx, p.RunID, p.seq+i, pq.Array(row)); err != nil {
			return errors.DatabaseError("failed to insert sample", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit samples", err)
	}
	p.created = true
	p.seq += len(p.pending)
	p.pending = p.pending[:0]
	return nil
}

func (p *Postgres) insertRun(tx *sqlx.Tx) error {
	names := make([]string, len(p.columns))
	for i, c := range p.columns {
		names[i] = c.Name
	}
	meta := make(map[string]interface{}, len(p.meta)+1)
	for k, v := range p.meta {
		meta[k] = v
	}
	meta["stored_at"] = time.Now().UTC().Format(time.RFC3339)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return errors.InvalidInput(fmt.Sprintf("metadata is not serialisable: %v", err))
	}
	if _, err := tx.ExecContext(p.ctx,
		`INSERT INTO sampler_runs (run_id, columns, metadata) VALUES ($1, $2, $3)`,
		p.RunID, pq.Array(names), metaJSON); err != nil {
		return errors.DatabaseError("failed to store run", err)
	}
	return nil
}

// Close flushes the remaining samples
func (p *Postgres) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.Flush()
}

// StoredRun is a run read back from the database
type StoredRun struct {
	RunID    uuid.UUID
	Columns  []string
	Metadata map[string]interface{}
	Samples  [][]float64
	Finals   map[string]string
}

// LoadRun reads a stored run, samples in insertion order
func LoadRun(ctx context.Context, db *sqlx.DB, runID uuid.UUID) (*StoredRun, error) {
	run := &StoredRun{RunID: runID, Finals: map[string]string{}}
	var metaJSON []byte
	err := db.QueryRowxContext(ctx, `SELECT columns, metadata FROM sampler_runs WHERE run_id = $1`, runID).
		Scan(pq.Array(&run.Columns), &metaJSON)
	if err != nil {
		return nil, errors.DatabaseError("failed to load run", err)
	}
	if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
		return nil, errors.DatabaseError("failed to decode run metadata", err)
	}

	rows, err := db.QueryxContext(ctx, `SELECT vals FROM sampler_samples WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, errors.DatabaseError("failed to load samples", err)
	}
	defer rows.Close()
	for rows.Next() {
		var vals pq.Float64Array
		if err := rows.Scan(&vals); err != nil {
			return nil, errors.DatabaseError("failed to scan sample", err)
		}
		run.Samples = append(run.Samples, []float64(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("failed to load samples", err)
	}

	var finals []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := db.SelectContext(ctx, &finals, `SELECT key, value FROM sampler_finals WHERE run_id = $1`, runID); err != nil {
		return nil, errors.DatabaseError("failed to load finals", err)
	}
	for _, f := range finals {
		run.Finals[f.Key] = f.Value
	}
	return run, nil
}
