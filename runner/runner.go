// Package runner drives queries through the search service into a resumable sink.
//
// Queries are processed strictly one at a time in input order. Each query (or, in the bulk
// variant, each batch) is wrapped in a bounded retry loop with linearly growing sleeps, and
// a pacing delay separates processed items. Queries the sink already holds are skipped, so
// an interrupted run can be restarted with the same input.
package runner

import (
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

// Defaults used by DefaultConfig.
const (
	DefaultRetries      = 2
	DefaultRetryBase    = time.Second
	DefaultRetryStep    = 1500 * time.Millisecond
	DefaultSleepBetween = 200 * time.Millisecond
	DefaultBatchSize    = 1
)

// Config controls a Runner.
type Config struct {
	// Retries is the number of additional attempts after a failed one.
	Retries int

	// RetryBase and RetryStep define the sleep before retry n (0-based): RetryBase + n × RetryStep.
	RetryBase time.Duration
	RetryStep time.Duration

	// SleepBetween is the pacing delay between processed items, applied regardless of outcome.
	SleepBetween time.Duration

	// Poll controls the readiness wait of each job.
	Poll molsearch.PollConfig

	// UseJobStatus logs the service's job status while waiting. It never decides readiness.
	UseJobStatus bool

	// BatchSize is the number of queries per bulk call.
	BatchSize int

	// NoBatch sends one synchronous search per query instead of batch calls.
	NoBatch bool

	// Options are passed to every remote call.
	Options []molsearch.SearchOption

	// Logger receives progress. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records outcomes. Optional.
	Metrics Recorder

	// RunID identifies the run in logs, spans and stored rows. Generated when empty.
	RunID string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Retries:      DefaultRetries,
		RetryBase:    DefaultRetryBase,
		RetryStep:    DefaultRetryStep,
		SleepBetween: DefaultSleepBetween,
		BatchSize:    DefaultBatchSize,
	}
}

// Recorder receives run metrics.
type Recorder interface {
	// ObserveQuery is called once per finished query with its outcome and number of hits written.
	ObserveQuery(outcome string, hits int, d time.Duration)
	// ObserveAttempt is called after every attempt of a query or batch.
	ObserveAttempt(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveQuery(string, int, time.Duration) {}
func (noopRecorder) ObserveAttempt(string)                   {}

// Query outcomes reported to the Recorder.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Runner processes queries against the search service and writes hits to a sink.
type Runner struct {
	jobs    molsearch.JobClient
	bulk    molsearch.BulkSearcher
	sink    molsearch.Sink
	cfg     Config
	runID   string
	logger  *slog.Logger
	metrics Recorder
	tracer  trace.Tracer
}

// New creates a Runner. jobs is required by Run and ProcessQuery, bulk by RunBulk;
// either may be nil when the corresponding mode is not used.
func New(jobs molsearch.JobClient, bulk molsearch.BulkSearcher, sink molsearch.Sink, cfg Config) *Runner {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	runID := cfg.RunID
	if runID == "" {
		runID = ksuid.New().String()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}

	cfg.Poll.Logger = logger
	if cfg.UseJobStatus && jobs != nil {
		cfg.Poll.Status = jobs
	}

	return &Runner{
		jobs:    jobs,
		bulk:    bulk,
		sink:    sink,
		cfg:     cfg,
		runID:   runID,
		logger:  logger.With("run_id", runID),
		metrics: metrics,
		tracer:  otel.Tracer("molsearch-runner"),
	}
}

// RunID identifies this runner's run in logs and spans.
func (r *Runner) RunID() string {
	return r.runID
}

// Summary is the outcome of a run.
type Summary struct {
	RunID     string
	Total     int
	Skipped   int
	Succeeded int
	Failed    int
	Hits      int
	Failures  map[string]error
	Output    string
	Elapsed   time.Duration
}

func (r *Runner) newSummary(total int) *Summary {
	return &Summary{
		RunID:    r.runID,
		Total:    total,
		Failures: make(map[string]error),
		Output:   r.sink.Location(),
	}
}

func (s *Summary) fail(queryID string, err error) {
	s.Failed++
	s.Failures[queryID] = err
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Int("total", s.Total),
		slog.Int("skipped", s.Skipped),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("hits", s.Hits),
		slog.String("output", s.Output),
		slog.Duration("elapsed", s.Elapsed.Round(time.Millisecond)),
	)
}
