// Package pgsink writes result rows to a Postgres table.
//
// Every Append runs in one transaction, so a query's rows are either all present or
// absent. Resume reads the distinct query ids already stored.
package pgsink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/sink"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "molsearch_hits"

// Option configures a Sink.
type Option interface {
	apply(*Sink)
}

type optionFunc func(*Sink)

func (f optionFunc) apply(s *Sink) { f(s) }

// WithRunID tags every inserted row with the run that produced it.
func WithRunID(runID string) Option {
	return optionFunc(func(s *Sink) {
		s.runID = runID
	})
}

// Sink is a molsearch.Sink backed by a Postgres table.
type Sink struct {
	mu        sync.Mutex
	pool      *pgxpool.Pool
	ownsPool  bool
	table     string
	ident     string
	runID     string
	processed map[string]struct{}
}

var _ molsearch.Sink = (*Sink)(nil)

// Connect opens a pool for dsn and prepares table. The pool is closed with the Sink.
func Connect(ctx context.Context, dsn, table string, mode sink.Mode, opts ...Option) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse postgres dsn"), molsearch.ErrConfig)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s, err := Open(ctx, pool, table, mode, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.ownsPool = true
	return s, nil
}

// Open prepares table on an existing pool. The table is created when missing,
// truncated in overwrite mode and scanned for query ids in resume mode.
func Open(ctx context.Context, pool *pgxpool.Pool, table string, mode sink.Mode, opts ...Option) (*Sink, error) {
	if table == "" {
		table = DefaultTable
	}
	ident, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		pool:      pool,
		table:     table,
		ident:     ident,
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(s)
		}
	}

	if _, err := pool.Exec(ctx, createTableSQL(ident)); err != nil {
		return nil, errors.Wrapf(err, "create table %s", table)
	}

	switch mode {
	case sink.ModeOverwrite:
		if _, err := pool.Exec(ctx, "TRUNCATE "+ident); err != nil {
			return nil, errors.Wrapf(err, "truncate %s", table)
		}
	case sink.ModeResume:
		ids, err := s.queryIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			s.processed[id] = struct{}{}
		}
	}
	return s, nil
}

// quoteTable validates a table name, optionally schema-qualified, and quotes it.
func quoteTable(table string) (string, error) {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", errors.Mark(errors.Newf("invalid table name %q", table), molsearch.ErrConfig)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", errors.Mark(errors.Newf("invalid table name %q", table), molsearch.ErrConfig)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func createTableSQL(ident string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	run_id text NOT NULL DEFAULT '',
	query_id text NOT NULL,
	query_smiles text NOT NULL,
	hit_smiles text NOT NULL,
	hit_id text NOT NULL,
	similarity double precision NULL,
	position integer NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`, ident)
}

func (s *Sink) queryIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT query_id FROM "+s.ident)
	if err != nil {
		return nil, errors.Wrapf(err, "read query ids from %s", s.table)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrapf(err, "read query ids from %s", s.table)
	}
	return ids, nil
}

// IsProcessed reports whether queryID was stored before open (resume mode) or appended since.
func (s *Sink) IsProcessed(queryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[queryID]
	return ok
}

// Append inserts one row per hit in a single transaction and marks q processed.
func (s *Sink) Append(ctx context.Context, q molsearch.Query, hits []molsearch.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return errors.Newf("sink %s is closed", s.table)
	}

	if len(hits) > 0 {
		if err := s.insert(ctx, q, hits); err != nil {
			if ctx.Err() != nil {
				return errors.WithSecondaryError(molsearch.ErrCanceled, err)
			}
			return errors.Wrapf(err, "insert %d rows for query %s into %s", len(hits), q.ID, s.table)
		}
	}

	s.processed[q.ID] = struct{}{}
	return nil
}

func (s *Sink) insert(ctx context.Context, q molsearch.Query, hits []molsearch.Hit) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	insertSQL := "INSERT INTO " + s.ident +
		" (run_id, query_id, query_smiles, hit_smiles, hit_id, similarity, position) VALUES ($1, $2, $3, $4, $5, $6, $7)"

	b := &pgx.Batch{}
	for i, r := range molsearch.Rows(q, hits) {
		b.Queue(insertSQL, s.runID, r.QueryID, r.QueryMolecule, r.HitMolecule, r.HitID, r.Similarity, i)
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "row %d", i)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Location returns the table name.
func (s *Sink) Location() string {
	return "postgres:" + s.table
}

// Close releases the pool when the Sink opened it.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	if s.ownsPool {
		s.pool.Close()
	}
	s.pool = nil
	return nil
}
