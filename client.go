package molsearch

import "context"

// Submitter turns a query into a remote job.
type Submitter interface {
	// Submit creates a search job for the query and returns its handle.
	Submit(ctx context.Context, q Query, opts ...SearchOption) (JobHandle, error)
}

// PageFetcher retrieves one page of a job's results.
type PageFetcher interface {
	// FetchPage retrieves the zero-based page pageNum of the job's results.
	FetchPage(ctx context.Context, handle JobHandle, pageNum int, opts ...SearchOption) (*Page, error)
}

// StatusChecker reports the service's own view of a job.
// The status is informational only; readiness is decided by probing results.
type StatusChecker interface {
	JobStatus(ctx context.Context, handle JobHandle) (string, error)
}

// JobClient is the full asynchronous job API.
type JobClient interface {
	Submitter
	PageFetcher
	StatusChecker
}

// BulkSearcher is the synchronous search API used by the bulk variant.
type BulkSearcher interface {
	// BatchSearch searches several molecules in one call and returns hits per query, in order.
	BatchSearch(ctx context.Context, qs []Query, opts ...SearchOption) ([][]Hit, error)

	// MolSearch searches a single molecule synchronously.
	MolSearch(ctx context.Context, q Query, opts ...SearchOption) ([]Hit, error)
}

// PageFetcherFunc is a function type that implements the PageFetcher interface.
// This allows using a function as a PageFetcher, similar to http.HandlerFunc.
type PageFetcherFunc func(context.Context, JobHandle, int, ...SearchOption) (*Page, error)

// FetchPage implements the PageFetcher interface for PageFetcherFunc.
func (f PageFetcherFunc) FetchPage(ctx context.Context, handle JobHandle, pageNum int, opts ...SearchOption) (*Page, error) {
	return f(ctx, handle, pageNum, opts...)
}

// Sink is the durable destination of result rows.
type Sink interface {
	// IsProcessed reports whether the query already has durable output.
	IsProcessed(queryID string) bool

	// Append durably writes the hits of one query before returning and marks it processed.
	Append(ctx context.Context, q Query, hits []Hit) error

	// Location describes where rows are written, for the final summary.
	Location() string

	// Close releases the underlying resources.
	Close() error
}
