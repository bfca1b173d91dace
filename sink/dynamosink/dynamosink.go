// Package dynamosink writes result rows to a DynamoDB table keyed by query id, append generation
// and hit position.
package dynamosink

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/internal/ddb"
	"github.com/letmevibethatforyou/molsearch/sink"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// maxUnprocessedRetries bounds resubmission of items DynamoDB left unprocessed.
const maxUnprocessedRetries = 8

// Client is the subset of the DynamoDB API the sink uses.
type Client interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Option configures a Sink.
type Option interface {
	apply(*Sink)
}

type optionFunc func(*Sink)

func (f optionFunc) apply(s *Sink) { f(s) }

// WithRunID tags every written item with the run that produced it.
func WithRunID(runID string) Option {
	return optionFunc(func(s *Sink) {
		s.runID = runID
	})
}

// Sink is a molsearch.Sink backed by a DynamoDB table with a string pk and string sk.
type Sink struct {
	mu         sync.Mutex
	client     Client
	table      string
	runID      string
	processed  map[string]struct{}
	closed     bool
	newBackOff func() backoff.BackOff
}

var _ molsearch.Sink = (*Sink)(nil)

// New prepares table according to mode. Resume scans the partition keys already stored;
// overwrite deletes every item. The table itself must exist.
func New(ctx context.Context, client Client, table string, mode sink.Mode, opts ...Option) (*Sink, error) {
	if table == "" {
		return nil, errors.Mark(errors.New("dynamodb table name is required"), molsearch.ErrConfig)
	}

	s := &Sink{
		client:    client,
		table:     table,
		processed: make(map[string]struct{}),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(s)
		}
	}

	switch mode {
	case sink.ModeOverwrite:
		if err := s.truncate(ctx); err != nil {
			return nil, err
		}
	case sink.ModeResume:
		err := s.scanKeys(ctx, func(av map[string]types.AttributeValue) error {
			it, err := ddb.UnmarshalItem(av)
			if err != nil {
				return errors.Wrapf(err, "decode key of an item in %s", s.table)
			}
			if it.QueryID != "" {
				s.processed[it.QueryID] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// scanKeys visits the primary key of every item in the table.
func (s *Sink) scanKeys(ctx context.Context, visit func(map[string]types.AttributeValue) error) error {
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		ProjectionExpression: aws.String("#pk, #sk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": ddb.PartitionKey,
			"#sk": ddb.SortKey,
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return errors.Wrapf(err, "scan table %s", s.table)
		}
		for _, av := range page.Items {
			if err := visit(av); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sink) truncate(ctx context.Context) error {
	var deletes []types.WriteRequest
	err := s.scanKeys(ctx, func(av map[string]types.AttributeValue) error {
		deletes = append(deletes, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: ddb.Key(av)},
		})
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(s.writeAll(ctx, deletes), "clear table %s", s.table)
}

// IsProcessed reports whether queryID was stored before open (resume mode) or appended since.
func (s *Sink) IsProcessed(queryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[queryID]
	return ok
}

// Append writes one item per hit and marks q processed once every item is accepted.
// Each call writes under a fresh generation, so items already stored are never overwritten.
func (s *Sink) Append(ctx context.Context, q molsearch.Query, hits []molsearch.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Newf("sink %s is closed", s.table)
	}

	if len(hits) > 0 {
		generation := ksuid.New().String()
		puts := make([]types.WriteRequest, 0, len(hits))
		for i, r := range molsearch.Rows(q, hits) {
			av, err := ddb.MarshalItem(ddb.NewItem(r, generation, i, s.runID))
			if err != nil {
				return errors.Wrapf(err, "marshal hit %d of query %s", i, q.ID)
			}
			puts = append(puts, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		if err := s.writeAll(ctx, puts); err != nil {
			return errors.Wrapf(err, "write %d items for query %s to %s", len(puts), q.ID, s.table)
		}
	}

	s.processed[q.ID] = struct{}{}
	return nil
}

// writeAll sends requests in chunks of maxBatchWrite, resubmitting unprocessed items with backoff.
func (s *Sink) writeAll(ctx context.Context, requests []types.WriteRequest) error {
	for from := 0; from < len(requests); from += maxBatchWrite {
		chunk := requests[from:min(from+maxBatchWrite, len(requests))]
		if err := s.writeChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) writeChunk(ctx context.Context, chunk []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: chunk}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), maxUnprocessedRetries), ctx)
	return backoff.Retry(func() error {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(errors.WithSecondaryError(molsearch.ErrCanceled, err))
			}
			return backoff.Permanent(err)
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		return errors.Newf("%d items left unprocessed", len(pending[s.table]))
	}, b)
}

// Location returns the table name.
func (s *Sink) Location() string {
	return "dynamodb:" + s.table
}

// Close marks the sink closed. The client is owned by the caller.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
