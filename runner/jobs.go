package runner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

// ProcessQuery runs one attempt of submit, readiness wait and paged retrieval for q and
// returns its output rows. Nothing is written to the sink.
func (r *Runner) ProcessQuery(ctx context.Context, q molsearch.Query) ([]molsearch.Row, error) {
	if r.jobs == nil {
		return nil, errors.Mark(errors.New("no job client configured"), molsearch.ErrConfig)
	}
	hits, err := r.searchQuery(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	return molsearch.Rows(q, hits), nil
}

func (r *Runner) searchQuery(ctx context.Context, q molsearch.Query, attempt int) ([]molsearch.Hit, error) {
	ctx, span := r.tracer.Start(ctx, "runner.process_query",
		trace.WithAttributes(
			attribute.String("molsearch.run_id", r.runID),
			attribute.String("molsearch.query_id", q.ID),
			attribute.Int("molsearch.attempt", attempt),
		),
	)
	defer span.End()

	log := r.logger.With("query_id", q.ID)

	handle, err := r.jobs.Submit(ctx, q, r.cfg.Options...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("molsearch.job", string(handle)))
	log.InfoContext(ctx, "submitted", "job", handle)

	started := time.Now()
	if err := molsearch.AwaitReady(ctx, r.jobs, handle, r.cfg.Poll, r.cfg.Options...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "results never became available")
		return nil, err
	}
	log.InfoContext(ctx, "results available", "job", handle, "waited", time.Since(started).Round(time.Millisecond))

	fetcher := molsearch.PageFetcherFunc(func(ctx context.Context, h molsearch.JobHandle, pageNum int, opts ...molsearch.SearchOption) (*molsearch.Page, error) {
		page, err := r.jobs.FetchPage(ctx, h, pageNum, opts...)
		if err == nil {
			log.DebugContext(ctx, "fetched page", "job", h, "page", pageNum, "entries", page.Entries, "hits", len(page.Hits))
		}
		return page, err
	})

	cfg := molsearch.NewSearchConfig(r.cfg.Options...)
	hits, err := molsearch.CollectResults(molsearch.IterateResults(ctx, fetcher, handle, cfg.Neighbors, r.cfg.Options...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "paging failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("molsearch.hits", len(hits)))
	span.SetStatus(codes.Ok, "query processed")
	return hits, nil
}

// Run processes qs sequentially in input order.
//
// Queries already held by the sink are skipped. Each remaining query is attempted up to
// Retries+1 times; a query that still fails is reported in the summary and the run moves
// on. A rejected request (bad credentials or parameters) aborts the run, since every
// following query would fail the same way. The summary is returned in every case.
func (r *Runner) Run(ctx context.Context, qs []molsearch.Query) (Summary, error) {
	sum := r.newSummary(len(qs))
	start := time.Now()
	err := r.run(ctx, qs, sum)
	sum.Elapsed = time.Since(start)
	return *sum, err
}

func (r *Runner) run(ctx context.Context, qs []molsearch.Query, sum *Summary) error {
	if r.jobs == nil {
		return errors.Mark(errors.New("no job client configured"), molsearch.ErrConfig)
	}

	processed := 0
	for i, q := range qs {
		if err := ctx.Err(); err != nil {
			return errors.WithSecondaryError(molsearch.ErrCanceled, err)
		}

		if r.sink.IsProcessed(q.ID) {
			r.logger.InfoContext(ctx, "skipped, already in output", "query_id", q.ID)
			sum.Skipped++
			r.metrics.ObserveQuery(OutcomeSkipped, 0, 0)
			continue
		}

		if processed > 0 {
			if err := pause(ctx, r.cfg.SleepBetween); err != nil {
				return err
			}
		}
		processed++

		r.logger.InfoContext(ctx, "running query",
			"query_id", q.ID,
			"smiles", q.Molecule,
			"position", i+1,
			"total", len(qs),
		)

		qStart := time.Now()
		var hits []molsearch.Hit
		attempts, err := r.retry(ctx, "query "+q.ID, func(attempt int) error {
			var err error
			hits, err = r.searchQuery(ctx, q, attempt)
			return err
		})
		if err != nil {
			if errors.Is(err, molsearch.ErrCanceled) {
				return err
			}
			sum.fail(q.ID, err)

			if molsearch.IsRejected(err) || errors.Is(err, molsearch.ErrConfig) {
				r.metrics.ObserveQuery(OutcomeRejected, 0, time.Since(qStart))
				r.logger.ErrorContext(ctx, "request rejected, aborting run", "query_id", q.ID, "error", err)
				return errors.Wrapf(err, "query %s", q.ID)
			}

			r.metrics.ObserveQuery(OutcomeFailed, 0, time.Since(qStart))
			r.logger.ErrorContext(ctx, "query failed", "query_id", q.ID, "attempts", attempts, "error", err)
			continue
		}

		if err := r.sink.Append(ctx, q, hits); err != nil {
			return errors.Wrapf(err, "write results of query %s", q.ID)
		}
		sum.Succeeded++
		sum.Hits += len(hits)
		r.metrics.ObserveQuery(OutcomeSucceeded, len(hits), time.Since(qStart))
		r.logger.InfoContext(ctx, "query completed",
			"query_id", q.ID,
			"hits", len(hits),
			"attempts", attempts,
			"output", sum.Output,
		)
	}
	return nil
}
