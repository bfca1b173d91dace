// Package algoliasink writes result rows as records of an Algolia index.
package algoliasink

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/sink"
)

const queryIDAttribute = "query_id"

// Object is one result row as stored in the index.
type Object struct {
	ObjectID      string   `json:"objectID"`
	QueryID       string   `json:"query_id"`
	QueryMolecule string   `json:"query_smiles"`
	HitMolecule   string   `json:"hit_smiles"`
	HitID         string   `json:"hit_id"`
	Similarity    *float64 `json:"similarity,omitempty"`
	Position      int      `json:"position"`
	RunID         string   `json:"run_id,omitempty"`
}

// ObjectID names the record of a hit. Generations keep repeated appends of a query apart.
func ObjectID(generation, queryID string, position int) string {
	return fmt.Sprintf("%s/%s/%06d", generation, queryID, position)
}

// NewObject builds the record for the row at position.
func NewObject(r molsearch.Row, generation string, position int, runID string) Object {
	return Object{
		ObjectID:      ObjectID(generation, r.QueryID, position),
		QueryID:       r.QueryID,
		QueryMolecule: r.QueryMolecule,
		HitMolecule:   r.HitMolecule,
		HitID:         r.HitID,
		Similarity:    r.Similarity,
		Position:      position,
		RunID:         runID,
	}
}

// Index is the subset of an Algolia index the sink uses. Writes return once indexed.
type Index interface {
	Name() string
	SaveObjects(ctx context.Context, objects []Object) error
	QueryIDs(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Option configures a Sink.
type Option func(*Sink)

// WithRunID tags every record with the run that produced it.
func WithRunID(runID string) Option {
	return func(s *Sink) {
		s.runID = runID
	}
}

// Sink is a molsearch.Sink backed by an Algolia index.
type Sink struct {
	mu        sync.Mutex
	index     Index
	runID     string
	processed map[string]struct{}
	closed    bool
}

var _ molsearch.Sink = (*Sink)(nil)

// New prepares idx according to mode. Resume browses the query ids already indexed;
// overwrite clears the index.
func New(ctx context.Context, idx Index, mode sink.Mode, opts ...Option) (*Sink, error) {
	if idx == nil || idx.Name() == "" {
		return nil, errors.Mark(errors.New("algolia index name is required"), molsearch.ErrConfig)
	}

	s := &Sink{
		index:     idx,
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	switch mode {
	case sink.ModeOverwrite:
		if err := idx.Clear(ctx); err != nil {
			return nil, err
		}
	case sink.ModeResume:
		ids, err := idx.QueryIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			s.processed[id] = struct{}{}
		}
	}
	return s, nil
}

// IsProcessed reports whether queryID was indexed before open (resume mode) or appended since.
func (s *Sink) IsProcessed(queryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[queryID]
	return ok
}

// Append saves one record per hit and marks q processed once the indexing task finished.
func (s *Sink) Append(ctx context.Context, q molsearch.Query, hits []molsearch.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Newf("sink %s is closed", s.Location())
	}

	if len(hits) > 0 {
		generation := ksuid.New().String()
		objects := make([]Object, 0, len(hits))
		for i, r := range molsearch.Rows(q, hits) {
			objects = append(objects, NewObject(r, generation, i, s.runID))
		}
		if err := s.index.SaveObjects(ctx, objects); err != nil {
			return errors.Wrapf(err, "save %d records for query %s", len(objects), q.ID)
		}
	}

	s.processed[q.ID] = struct{}{}
	return nil
}

// Location names the index.
func (s *Sink) Location() string {
	return "algolia:" + s.index.Name()
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
