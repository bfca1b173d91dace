package cheese

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

const (
	opBatchSearch = "batch_search"
	opMolSearch   = "molsearch"
)

// BatchSearch runs a synchronous search for several molecules in one call.
//
// The result is aligned with qs when the service answers with one payload per query.
// Otherwise the whole answer belongs to qs[0] and the result has a single element.
func (c *Client) BatchSearch(ctx context.Context, qs []molsearch.Query, opts ...molsearch.SearchOption) ([][]molsearch.Hit, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	cfg := molsearch.NewSearchConfig(opts...)

	ctx, span := c.tracer.Start(ctx, "cheese.batch_search",
		trace.WithAttributes(
			attribute.Int("cheese.batch_size", len(qs)),
			attribute.String("cheese.db_name", cfg.Database),
			attribute.Int("cheese.n_neighbors", cfg.Neighbors),
		),
	)
	defer span.End()

	params := bulkParams(cfg)
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			return nil, errors.Wrapf(err, "query %q", q.ID)
		}
		params.Add("search_input", q.Molecule)
	}

	raw, err := c.call(ctx, span, http.MethodGet, opBatchSearch, params, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "batch of %d queries", len(qs))
	}

	perQuery, err := molsearch.NormalizeBatch(raw, len(qs))
	if err != nil {
		failSpan(span, err, "unexpected batch response")
		return nil, err
	}
	for i := range perQuery {
		perQuery[i] = limitHits(perQuery[i], cfg.Neighbors)
	}

	span.SetAttributes(attribute.Bool("cheese.aligned", len(perQuery) == len(qs)))
	span.SetStatus(codes.Ok, "batch searched")
	return perQuery, nil
}

// MolSearch runs a synchronous search for a single molecule.
func (c *Client) MolSearch(ctx context.Context, q molsearch.Query, opts ...molsearch.SearchOption) ([]molsearch.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	cfg := molsearch.NewSearchConfig(opts...)

	ctx, span := c.tracer.Start(ctx, "cheese.molsearch",
		trace.WithAttributes(
			attribute.String("molsearch.query_id", q.ID),
			attribute.String("cheese.db_name", cfg.Database),
		),
	)
	defer span.End()

	params := bulkParams(cfg)
	params.Set("search_input", q.Molecule)

	raw, err := c.call(ctx, span, http.MethodGet, opMolSearch, params, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", q.ID)
	}

	hits, err := molsearch.Normalize(raw)
	if err != nil {
		failSpan(span, err, "unexpected molsearch response")
		return nil, err
	}

	span.SetStatus(codes.Ok, "molecule searched")
	return limitHits(hits, cfg.Neighbors), nil
}

func bulkParams(cfg *molsearch.SearchConfig) url.Values {
	params := url.Values{}
	params.Set("search_type", cfg.SearchType)
	params.Set("search_quality", cfg.SearchQuality)
	params.Add("db_names", cfg.Database)
	params.Set("n_neighbors", strconv.Itoa(cfg.Neighbors))
	return params
}

func limitHits(hits []molsearch.Hit, n int) []molsearch.Hit {
	if n > 0 && len(hits) > n {
		return hits[:n]
	}
	return hits
}
