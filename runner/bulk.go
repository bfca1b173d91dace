package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

// errUnattributed marks queries of a batch whose answer could not be aligned with them.
var errUnattributed = errors.New("batch answer was not aligned with the queries; no results attributed")

// RunBulk processes qs through the synchronous search API in batches of BatchSize.
//
// Each batch is retried as a whole, but queries written by an earlier attempt are not sent
// again. A rejected request abandons only the current batch. When the service answers a
// batch with a single unaligned payload, it is attributed to the first query and the other
// queries of the batch are reported as failed.
func (r *Runner) RunBulk(ctx context.Context, qs []molsearch.Query) (Summary, error) {
	sum := r.newSummary(len(qs))
	start := time.Now()
	err := r.runBulk(ctx, qs, sum)
	sum.Elapsed = time.Since(start)
	return *sum, err
}

func (r *Runner) runBulk(ctx context.Context, qs []molsearch.Query, sum *Summary) error {
	if r.bulk == nil {
		return errors.Mark(errors.New("no bulk searcher configured"), molsearch.ErrConfig)
	}

	pending := make([]molsearch.Query, 0, len(qs))
	for _, q := range qs {
		if r.sink.IsProcessed(q.ID) {
			r.logger.InfoContext(ctx, "skipped, already in output", "query_id", q.ID)
			sum.Skipped++
			r.metrics.ObserveQuery(OutcomeSkipped, 0, 0)
			continue
		}
		pending = append(pending, q)
	}

	for n, from := 0, 0; from < len(pending); n, from = n+1, from+r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return errors.WithSecondaryError(molsearch.ErrCanceled, err)
		}
		if n > 0 {
			if err := pause(ctx, r.cfg.SleepBetween); err != nil {
				return err
			}
		}

		batch := pending[from:min(from+r.cfg.BatchSize, len(pending))]
		for _, q := range batch {
			r.logger.InfoContext(ctx, "running query", "query_id", q.ID, "smiles", q.Molecule, "batch", n+1)
		}

		bStart := time.Now()
		attempts, err := r.retry(ctx, fmt.Sprintf("batch %d", n+1), func(attempt int) error {
			return r.searchBatch(ctx, batch, attempt, sum)
		})
		switch {
		case err == nil:
			err = errUnattributed
		case errors.Is(err, molsearch.ErrCanceled), errors.Is(err, molsearch.ErrConfig):
			return err
		case molsearch.IsRejected(err):
			r.logger.ErrorContext(ctx, "request rejected, abandoning batch", "batch", n+1, "error", err)
		default:
			r.logger.ErrorContext(ctx, "batch failed", "batch", n+1, "attempts", attempts, "error", err)
		}

		for _, q := range batch {
			if r.sink.IsProcessed(q.ID) {
				continue
			}
			sum.fail(q.ID, err)
			outcome := OutcomeFailed
			if molsearch.IsRejected(err) {
				outcome = OutcomeRejected
			}
			r.metrics.ObserveQuery(outcome, 0, time.Since(bStart))
			if errors.Is(err, errUnattributed) {
				r.logger.WarnContext(ctx, "no results attributed", "query_id", q.ID, "batch", n+1)
			}
		}
	}
	return nil
}

// searchBatch sends the not yet written queries of batch and appends their hits.
func (r *Runner) searchBatch(ctx context.Context, batch []molsearch.Query, attempt int, sum *Summary) error {
	todo := make([]molsearch.Query, 0, len(batch))
	for _, q := range batch {
		if !r.sink.IsProcessed(q.ID) {
			todo = append(todo, q)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "runner.process_batch",
		trace.WithAttributes(
			attribute.String("molsearch.run_id", r.runID),
			attribute.Int("molsearch.batch_size", len(todo)),
			attribute.Int("molsearch.attempt", attempt),
			attribute.Bool("molsearch.no_batch", r.cfg.NoBatch),
		),
	)
	defer span.End()

	if r.cfg.NoBatch {
		for _, q := range todo {
			start := time.Now()
			hits, err := r.bulk.MolSearch(ctx, q, r.cfg.Options...)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "molsearch failed")
				return errors.Wrapf(err, "query %s", q.ID)
			}
			if err := r.write(ctx, q, hits, start, sum); err != nil {
				return err
			}
		}
		span.SetStatus(codes.Ok, "batch processed")
		return nil
	}

	start := time.Now()
	perQuery, err := r.bulk.BatchSearch(ctx, todo, r.cfg.Options...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch search failed")
		return err
	}
	for i := range min(len(perQuery), len(todo)) {
		if err := r.write(ctx, todo[i], perQuery[i], start, sum); err != nil {
			return err
		}
	}
	span.SetStatus(codes.Ok, "batch processed")
	return nil
}

func (r *Runner) write(ctx context.Context, q molsearch.Query, hits []molsearch.Hit, start time.Time, sum *Summary) error {
	if err := r.sink.Append(ctx, q, hits); err != nil {
		// Sink failures are not retried.
		return errors.Mark(errors.Wrapf(err, "write results of query %s", q.ID), molsearch.ErrConfig)
	}
	sum.Succeeded++
	sum.Hits += len(hits)
	r.metrics.ObserveQuery(OutcomeSucceeded, len(hits), time.Since(start))
	r.logger.InfoContext(ctx, "query completed", "query_id", q.ID, "hits", len(hits), "output", sum.Output)
	return nil
}
