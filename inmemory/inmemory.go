// Package inmemory provides an in-process stand-in for the CHEESE service.
//
// It implements molsearch.JobClient and molsearch.BulkSearcher over a small molecule
// catalogue. Jobs become ready after a configurable number of result probes, pages are
// produced in the service's parallel-array wire shape, and failures can be injected per
// operation. It is intended for tests and offline dry runs.
package inmemory

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/letmevibethatforyou/molsearch"
)

// Op names an operation for failure injection and call counting.
type Op string

const (
	OpSubmit      Op = "submit"
	OpFetchPage   Op = "get_molsearch_page"
	OpJobStatus   Op = "job_status"
	OpBatchSearch Op = "batch_search"
	OpMolSearch   Op = "molsearch"
)

// Job statuses reported by JobStatus.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
)

// Molecule is one catalogue entry.
type Molecule struct {
	// ID is the catalogue identifier, without the synthetic suffix.
	ID string `json:"id"`
	// Smiles is the molecule structure.
	Smiles string `json:"smiles"`
	// Properties holds named descriptors used by property-range filters.
	Properties map[string]float64 `json:"properties,omitempty"`
}

type job struct {
	query   molsearch.Query
	probes  int
	ranking []rankedMolecule
}

// Option configures a Service.
type Option func(*Service)

// WithReadyAfter makes every job report results only after n empty probes of page 0.
func WithReadyAfter(n int) Option {
	return func(s *Service) {
		s.readyAfter = n
	}
}

// Service implements the job and bulk APIs in memory.
// It is safe for concurrent use.
type Service struct {
	mu         sync.Mutex
	molecules  []Molecule
	idIndex    map[string]int // maps molecule ID to index in molecules slice
	jobs       map[molsearch.JobHandle]*job
	readyAfter int
	failures   map[Op][]error
	calls      map[Op]int
}

var (
	_ molsearch.JobClient    = (*Service)(nil)
	_ molsearch.BulkSearcher = (*Service)(nil)
)

// New creates an empty service.
func New(opts ...Option) *Service {
	s := &Service{
		idIndex:  make(map[string]int),
		jobs:     make(map[molsearch.JobHandle]*job),
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMolecule adds a molecule to the catalogue.
// If a molecule with the same ID already exists, it will be updated.
func (s *Service) AddMolecule(m Molecule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, exists := s.idIndex[m.ID]; exists {
		s.molecules[idx] = m
		return
	}
	s.idIndex[m.ID] = len(s.molecules)
	s.molecules = append(s.molecules, m)
}

// AddJSON adds a molecule described as JSON, e.g. {"smiles": "CCO", "properties": {"heavy_atoms": 3}}.
func (s *Service) AddJSON(id string, jsonData []byte) error {
	var m Molecule
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return errors.Wrap(err, "failed to unmarshal JSON")
	}
	m.ID = id
	s.AddMolecule(m)
	return nil
}

// RemoveMolecule removes a molecule by ID.
// Returns true if the molecule was found and removed.
func (s *Service) RemoveMolecule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.idIndex[id]
	if !exists {
		return false
	}

	s.molecules = append(s.molecules[:idx], s.molecules[idx+1:]...)

	// Rebuild index
	delete(s.idIndex, id)
	for i := idx; i < len(s.molecules); i++ {
		s.idIndex[s.molecules[i].ID] = i
	}
	return true
}

// Size returns the number of catalogue molecules.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.molecules)
}

// InjectFailure queues errors returned by the next calls of op, one per call.
func (s *Service) InjectFailure(op Op, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Service) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter counts a call and pops an injected failure. Caller holds s.mu.
func (s *Service) enter(ctx context.Context, op Op) error {
	s.calls[op]++

	select {
	case <-ctx.Done():
		return errors.WithSecondaryError(molsearch.ErrCanceled, ctx.Err())
	default:
	}

	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

// Submit creates a job for q.
func (s *Service) Submit(ctx context.Context, q molsearch.Query, opts ...molsearch.SearchOption) (molsearch.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpSubmit); err != nil {
		return "", errors.Mark(err, molsearch.ErrSubmission)
	}
	if err := q.Validate(); err != nil {
		return "", err
	}

	handle := molsearch.JobHandle(ksuid.New().String())
	s.jobs[handle] = &job{
		query:   q,
		ranking: s.rank(q.Molecule),
	}
	return handle, nil
}

// FetchPage returns one page of a job's results in the parallel-array shape.
// Until the job is ready, page 0 is empty.
func (s *Service) FetchPage(ctx context.Context, handle molsearch.JobHandle, pageNum int, opts ...molsearch.SearchOption) (*molsearch.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpFetchPage); err != nil {
		return nil, errors.Mark(err, molsearch.ErrFetch)
	}

	j, ok := s.jobs[handle]
	if !ok {
		return nil, errors.Mark(&molsearch.StatusError{
			Op:   string(OpFetchPage),
			Code: http.StatusNotFound,
			Body: `{"detail":"job not found"}`,
		}, molsearch.ErrFetch)
	}

	cfg := molsearch.NewSearchConfig(opts...)
	if j.probes < s.readyAfter {
		j.probes++
		return molsearch.NormalizePage([]byte(`{"smiles":[],"id":[],"similarity":[]}`))
	}

	raw, err := json.Marshal(pagePayload(j, pageNum, cfg.PageSize, cfg.Filters))
	if err != nil {
		return nil, errors.Wrap(err, "encode page")
	}
	page, err := molsearch.NormalizePage(raw)
	if err != nil {
		return nil, errors.Mark(err, molsearch.ErrFetch)
	}
	page.Number = pageNum
	return page, nil
}

// JobStatus reports PENDING until the job's results are available.
func (s *Service) JobStatus(ctx context.Context, handle molsearch.JobHandle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpJobStatus); err != nil {
		return "", err
	}
	j, ok := s.jobs[handle]
	if !ok {
		return "", &molsearch.StatusError{Op: string(OpJobStatus), Code: http.StatusNotFound}
	}
	if j.probes < s.readyAfter {
		return StatusPending, nil
	}
	return StatusSuccess, nil
}

// BatchSearch answers with one payload per query, aligned with qs.
func (s *Service) BatchSearch(ctx context.Context, qs []molsearch.Query, opts ...molsearch.SearchOption) ([][]molsearch.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpBatchSearch); err != nil {
		return nil, err
	}

	cfg := molsearch.NewSearchConfig(opts...)
	payload := make([]any, 0, len(qs))
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			return nil, errors.Wrapf(err, "query %q", q.ID)
		}
		payload = append(payload, neighborsPayload(q, s.rank(q.Molecule), cfg.Neighbors))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode batch")
	}
	return molsearch.NormalizeBatch(raw, len(qs))
}

// MolSearch answers a single synchronous search.
func (s *Service) MolSearch(ctx context.Context, q molsearch.Query, opts ...molsearch.SearchOption) ([]molsearch.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpMolSearch); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	cfg := molsearch.NewSearchConfig(opts...)
	raw, err := json.Marshal(neighborsPayload(q, s.rank(q.Molecule), cfg.Neighbors))
	if err != nil {
		return nil, errors.Wrap(err, "encode neighbors")
	}
	return molsearch.Normalize(raw)
}
