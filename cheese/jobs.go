package cheese

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

// Remote operations of the job API.
const (
	opSubmitSynthonGPT = "submit_synthongpt_job"
	opSubmitMolSearch  = "submit_molsearch"
	opGetPage          = "get_molsearch_page"
	opJobStatus        = "job_status"
)

// pageRequest is the JSON body of a page request.
type pageRequest struct {
	PropRanges json.RawMessage `json:"prop_ranges"`
	DBName     []string        `json:"db_name,omitempty"`
}

// Submit creates a search job for q and returns its handle.
func (c *Client) Submit(ctx context.Context, q molsearch.Query, opts ...molsearch.SearchOption) (molsearch.JobHandle, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	cfg := molsearch.NewSearchConfig(opts...)

	ctx, span := c.tracer.Start(ctx, "cheese.submit",
		trace.WithAttributes(
			attribute.String("molsearch.query_id", q.ID),
			attribute.String("cheese.submit_mode", string(cfg.SubmitMode)),
			attribute.String("cheese.db_name", cfg.Database),
		),
	)
	defer span.End()

	var (
		raw []byte
		err error
	)
	switch cfg.SubmitMode {
	case molsearch.ModeMolSearch:
		params := url.Values{}
		params.Set("search_input", q.Molecule)
		params.Set("search_type", cfg.SearchType)
		params.Set("search_quality", cfg.SearchQuality)
		params.Add("db_names", cfg.Database)
		raw, err = c.call(ctx, span, http.MethodGet, opSubmitMolSearch, params, nil)
	case molsearch.ModeSynthonGPT:
		params := url.Values{}
		params.Set("search_input", q.Molecule)
		params.Set("db_name", cfg.Database)
		params.Set("search_quality", cfg.SearchQuality)
		params.Set("include_properties", strconv.FormatBool(cfg.IncludeProperties))
		params.Set("include_metadata", strconv.FormatBool(cfg.IncludeMetadata))
		raw, err = c.call(ctx, span, http.MethodPost, opSubmitSynthonGPT, params, struct{}{})
	default:
		return "", errors.Mark(errors.Newf("unknown submit mode %q", cfg.SubmitMode), molsearch.ErrConfig)
	}
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "submit query %s", q.ID), molsearch.ErrSubmission)
	}

	handle, err := molsearch.ParseJobHandle(raw)
	if err != nil {
		failSpan(span, err, "unexpected submit response")
		return "", errors.Mark(errors.Wrapf(err, "submit query %s", q.ID), molsearch.ErrSubmission)
	}

	span.SetAttributes(attribute.String("cheese.job_name", string(handle)))
	span.SetStatus(codes.Ok, "job submitted")
	return handle, nil
}

// FetchPage retrieves one zero-based page of the job's results.
func (c *Client) FetchPage(ctx context.Context, handle molsearch.JobHandle, pageNum int, opts ...molsearch.SearchOption) (*molsearch.Page, error) {
	cfg := molsearch.NewSearchConfig(opts...)

	ctx, span := c.tracer.Start(ctx, "cheese.fetch_page",
		trace.WithAttributes(
			attribute.String("cheese.job_name", string(handle)),
			attribute.Int("cheese.page_num", pageNum),
			attribute.Int("cheese.page_size", cfg.PageSize),
		),
	)
	defer span.End()

	params := url.Values{}
	params.Set("job_name", string(handle))
	params.Set("page_num", strconv.Itoa(pageNum))
	params.Set("page_size", strconv.Itoa(cfg.PageSize))
	params.Set("db_name", cfg.Database)
	if cfg.IncludeProperties {
		params.Set("include_properties", "true")
	}
	if th := cfg.Filters.SimilarityThreshold; th != nil {
		params.Set("sim_th", strconv.FormatFloat(*th, 'f', -1, 64))
	}

	body := pageRequest{PropRanges: cfg.Filters.MarshalPropRanges()}
	if cfg.DBNameAsList {
		body.DBName = []string{cfg.Database}
	}

	raw, err := c.call(ctx, span, http.MethodPost, opGetPage, params, body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "page %d of job %s", pageNum, handle), molsearch.ErrFetch)
	}

	page, err := molsearch.NormalizePage(raw)
	if err != nil {
		failSpan(span, err, "unexpected page response")
		return nil, errors.Mark(errors.Wrapf(err, "page %d of job %s", pageNum, handle), molsearch.ErrFetch)
	}
	page.Number = pageNum

	span.SetAttributes(
		attribute.Int("cheese.entries", page.Entries),
		attribute.Int("cheese.hits", len(page.Hits)),
	)
	span.SetStatus(codes.Ok, "page fetched")
	return page, nil
}

// JobStatus returns the service's status string for the job, e.g. "SUCCESS".
func (c *Client) JobStatus(ctx context.Context, handle molsearch.JobHandle) (string, error) {
	ctx, span := c.tracer.Start(ctx, "cheese.job_status",
		trace.WithAttributes(attribute.String("cheese.job_name", string(handle))),
	)
	defer span.End()

	params := url.Values{}
	params.Set("job_name", string(handle))

	raw, err := c.call(ctx, span, http.MethodGet, opJobStatus, params, nil)
	if err != nil {
		return "", errors.Wrapf(err, "status of job %s", handle)
	}

	status := parseStatus(raw)
	span.SetAttributes(attribute.String("cheese.job_status", status))
	span.SetStatus(codes.Ok, "status retrieved")
	return status, nil
}

// parseStatus accepts a JSON string, an object with a status field, or plain text.
func parseStatus(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"status", "state", "job_status"} {
			if v, ok := obj[key].(string); ok {
				return v
			}
		}
	}

	return strings.TrimSpace(string(raw))
}
