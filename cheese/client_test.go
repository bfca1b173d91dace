package cheese

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letmevibethatforyou/molsearch"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   string
}

// fakeAPI records requests and answers with the configured handler.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	f.mu.Unlock()
	f.respond(w, r)
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, respond func(w http.ResponseWriter, r *http.Request), opts ...Option) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{respond: respond}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL + "/")}, opts...)
	return NewClient(StaticSecrets("secret-key"), opts...), api
}

func reply(code int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func TestSubmitSynthonGPT(t *testing.T) {
	c, api := newTestClient(t, reply(http.StatusOK, `{"job_name": "job-42"}`))

	handle, err := c.Submit(context.Background(), molsearch.Query{ID: "q1", Molecule: "CC(=O)Oc1ccccc1C(=O)O"},
		molsearch.WithDatabase("ZINC15"),
		molsearch.WithIncludeProperties(true),
	)
	require.NoError(t, err)
	assert.Equal(t, molsearch.JobHandle("job-42"), handle)

	req := api.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/submit_synthongpt_job", req.Path)
	assert.Equal(t, []string{"CC(=O)Oc1ccccc1C(=O)O"}, req.Query["search_input"])
	assert.Equal(t, []string{"ZINC15"}, req.Query["db_name"])
	assert.Equal(t, []string{"fast"}, req.Query["search_quality"])
	assert.Equal(t, []string{"true"}, req.Query["include_properties"])
	assert.Equal(t, []string{"false"}, req.Query["include_metadata"])
	assert.JSONEq(t, `{}`, req.Body)
	assert.Equal(t, "secret-key", req.Header.Get("X-API-Key"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
}

func TestSubmitMolSearch(t *testing.T) {
	c, api := newTestClient(t, reply(http.StatusOK, `"job-7"`))

	handle, err := c.Submit(context.Background(), molsearch.Query{ID: "q1", Molecule: "CCO"},
		molsearch.WithSubmitMode(molsearch.ModeMolSearch),
		molsearch.WithSearchType("morgan"),
	)
	require.NoError(t, err)
	assert.Equal(t, molsearch.JobHandle("job-7"), handle)

	req := api.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/submit_molsearch", req.Path)
	assert.Equal(t, []string{"morgan"}, req.Query["search_type"])
	assert.Equal(t, []string{molsearch.DefaultDatabase}, req.Query["db_names"])
	assert.Empty(t, req.Body)
}

func TestSubmitErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		c, _ := newTestClient(t, reply(http.StatusUnauthorized, `{"detail":"bad key"}`))
		_, err := c.Submit(context.Background(), molsearch.Query{ID: "q1", Molecule: "CCO"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, molsearch.ErrSubmission))
		assert.True(t, molsearch.IsRejected(err))
		assert.Contains(t, err.Error(), "auth error")

		var statusErr *molsearch.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	})

	t.Run("server error", func(t *testing.T) {
		c, _ := newTestClient(t, reply(http.StatusBadGateway, `upstream`))
		_, err := c.Submit(context.Background(), molsearch.Query{ID: "q1", Molecule: "CCO"})
		assert.True(t, errors.Is(err, molsearch.ErrBackendUnavailable))
		assert.False(t, molsearch.IsRejected(err))
	})

	t.Run("unexpected shape", func(t *testing.T) {
		c, _ := newTestClient(t, reply(http.StatusOK, `{"count": 3}`))
		_, err := c.Submit(context.Background(), molsearch.Query{ID: "q1", Molecule: "CCO"})
		assert.True(t, errors.Is(err, molsearch.ErrSubmission))
		assert.True(t, errors.Is(err, molsearch.ErrUnexpectedShape))
	})

	t.Run("invalid query is not sent", func(t *testing.T) {
		c, api := newTestClient(t, reply(http.StatusOK, `"x"`))
		_, err := c.Submit(context.Background(), molsearch.Query{ID: "q1"})
		assert.True(t, errors.Is(err, molsearch.ErrInvalidQuery))
		assert.Empty(t, api.requests)
	})

	t.Run("missing credentials", func(t *testing.T) {
		api := &fakeAPI{respond: reply(http.StatusOK, `"x"`)}
		srv := httptest.NewServer(api)
		defer srv.Close()

		c := NewClient(StaticSecrets(""), WithBaseURL(srv.URL))
		_, err := c.Submit(context.Background(), molsearch.Query{ID: "q1", Molecule: "CCO"})
		assert.True(t, errors.Is(err, molsearch.ErrConfig))
		assert.Empty(t, api.requests)
	})
}

func TestFetchPage(t *testing.T) {
	c, api := newTestClient(t, reply(http.StatusOK,
		`{"smiles": ["Q", "CCN"], "id": ["Query Molecule", "Z9-DMCH"], "similarity": [1.0, 0.81]}`))

	page, err := c.FetchPage(context.Background(), "job-1", 3,
		molsearch.WithPageSize(50),
		molsearch.WithDBNameAsList(true),
		molsearch.WithSimilarityThreshold(0.7),
		molsearch.WithPropRange("heavy_atoms", nil, ptr(30)),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Number)
	assert.Equal(t, 2, page.Entries)
	assert.Equal(t, 2, page.IDs)
	require.Len(t, page.Hits, 1)
	assert.Equal(t, "Z9", page.Hits[0].ID)
	assert.Equal(t, 0.81, *page.Hits[0].Similarity)

	req := api.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/get_molsearch_page", req.Path)
	assert.Equal(t, []string{"job-1"}, req.Query["job_name"])
	assert.Equal(t, []string{"3"}, req.Query["page_num"])
	assert.Equal(t, []string{"50"}, req.Query["page_size"])
	assert.Equal(t, []string{molsearch.DefaultDatabase}, req.Query["db_name"])
	assert.Equal(t, []string{"0.7"}, req.Query["sim_th"])
	assert.JSONEq(t, fmt.Sprintf(`{"prop_ranges": {"heavy_atoms": {"max": 30}}, "db_name": [%q]}`, molsearch.DefaultDatabase), req.Body)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

func TestFetchPageScalarDBName(t *testing.T) {
	c, api := newTestClient(t, reply(http.StatusOK, `{"smiles": [], "id": []}`))

	page, err := c.FetchPage(context.Background(), "job-1", 0)
	require.NoError(t, err)
	assert.Zero(t, page.Entries)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(api.last().Body), &body))
	assert.JSONEq(t, `{}`, string(body["prop_ranges"]))
	assert.NotContains(t, body, "db_name")
	assert.NotContains(t, api.last().Query, "sim_th")
}

func TestFetchPageErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		c, _ := newTestClient(t, reply(http.StatusUnprocessableEntity, `{"detail": "db_name"}`))
		_, err := c.FetchPage(context.Background(), "job-1", 0)
		assert.True(t, errors.Is(err, molsearch.ErrFetch))
		assert.True(t, molsearch.IsRejected(err))
		assert.Contains(t, err.Error(), "db-name-as-list")
	})

	t.Run("html body", func(t *testing.T) {
		c, _ := newTestClient(t, reply(http.StatusOK, `<html>busy</html>`))
		_, err := c.FetchPage(context.Background(), "job-1", 0)
		assert.True(t, errors.Is(err, molsearch.ErrFetch))

		var shapeErr *molsearch.ShapeError
		require.True(t, errors.As(err, &shapeErr))
		assert.Equal(t, "<html>busy</html>", string(shapeErr.Raw))
	})

	t.Run("timeout", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}, WithTimeout(20*time.Millisecond))
		_, err := c.FetchPage(context.Background(), "job-1", 0)
		assert.True(t, errors.Is(err, molsearch.ErrBackendUnavailable))
		assert.False(t, molsearch.IsRejected(err))
	})
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{body: `"SUCCESS"`, want: "SUCCESS"},
		{body: `{"status": "PENDING"}`, want: "PENDING"},
		{body: "RUNNING\n", want: "RUNNING"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			c, api := newTestClient(t, reply(http.StatusOK, tt.body))
			status, err := c.JobStatus(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, "/job_status", api.last().Path)
			assert.Equal(t, []string{"job-1"}, api.last().Query["job_name"])
		})
	}
}

func TestBatchSearch(t *testing.T) {
	c, api := newTestClient(t, reply(http.StatusOK,
		`[{"neighbors": [{"smiles": "A", "id": "1"}, {"smiles": "B", "id": "2"}]}, {"smiles": ["C"], "id": ["3"]}]`))

	qs := []molsearch.Query{{ID: "q1", Molecule: "CCO"}, {ID: "q2", Molecule: "CCN"}}
	got, err := c.BatchSearch(context.Background(), qs, molsearch.WithNeighbors(1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []molsearch.Hit{{Molecule: "A", ID: "1"}}, got[0])
	assert.Equal(t, []molsearch.Hit{{Molecule: "C", ID: "3"}}, got[1])

	req := api.last()
	assert.Equal(t, "/batch_search", req.Path)
	assert.Equal(t, []string{"CCO", "CCN"}, req.Query["search_input"])
	assert.Equal(t, []string{"1"}, req.Query["n_neighbors"])
	assert.Equal(t, []string{molsearch.DefaultDatabase}, req.Query["db_names"])
}

func TestBatchSearchUnalignedPayload(t *testing.T) {
	c, _ := newTestClient(t, reply(http.StatusOK, `{"smiles": ["A", "B"], "id": ["1", "2"]}`))

	qs := []molsearch.Query{{ID: "q1", Molecule: "CCO"}, {ID: "q2", Molecule: "CCN"}}
	got, err := c.BatchSearch(context.Background(), qs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 2)
}

func TestMolSearch(t *testing.T) {
	c, api := newTestClient(t, reply(http.StatusOK, `{"neighbors": [{"smiles": "A", "id": "1", "distance": 0.2}]}`))

	hits, err := c.MolSearch(context.Background(), molsearch.Query{ID: "q1", Molecule: "CCO"})
	require.NoError(t, err)
	assert.Equal(t, []molsearch.Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.2)}}, hits)
	assert.Equal(t, "/molsearch", api.last().Path)
	assert.Equal(t, []string{"CCO"}, api.last().Query["search_input"])
}

type countingObserver struct {
	calls atomic.Int32
	last  atomic.Int32
}

func (o *countingObserver) ObserveCall(endpoint string, status int, d time.Duration) {
	o.calls.Add(1)
	o.last.Store(int32(status))
}

func TestObserverAndLazySecrets(t *testing.T) {
	var fetched atomic.Int32
	fetch := func() (Secrets, error) {
		fetched.Add(1)
		return Secrets{APIKey: "k"}, nil
	}

	api := &fakeAPI{respond: reply(http.StatusTooManyRequests, `slow down`)}
	srv := httptest.NewServer(api)
	defer srv.Close()

	obs := &countingObserver{}
	c := NewClient(fetch, WithBaseURL(srv.URL), WithObserver(obs))
	assert.Equal(t, int32(0), fetched.Load())

	for range 3 {
		_, err := c.JobStatus(context.Background(), "job-1")
		assert.True(t, errors.Is(err, molsearch.ErrBackendUnavailable))
	}
	assert.Equal(t, int32(1), fetched.Load())
	assert.Equal(t, int32(3), obs.calls.Load())
	assert.Equal(t, int32(http.StatusTooManyRequests), obs.last.Load())
}

func TestCheckCredentials(t *testing.T) {
	var fetched atomic.Int32
	c := NewClient(func() (Secrets, error) {
		fetched.Add(1)
		return Secrets{APIKey: "k"}, nil
	})
	require.NoError(t, c.CheckCredentials())
	require.NoError(t, c.CheckCredentials())
	assert.Equal(t, int32(1), fetched.Load())

	t.Setenv("CHEESE_API_KEY", "")
	err := NewClient(EnvSecrets()).CheckCredentials()
	require.Error(t, err)
	assert.True(t, errors.Is(err, molsearch.ErrConfig))
	assert.Contains(t, err.Error(), "CHEESE_API_KEY")

	err = NewClient(StaticSecrets("")).CheckCredentials()
	assert.True(t, errors.Is(err, molsearch.ErrConfig))
}

func ptr(f float64) *float64 { return &f }
