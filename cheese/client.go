// Package cheese provides a lazily authenticated HTTP client for the CHEESE similarity-search API
// with configurable secret management.
package cheese

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

const (
	// DefaultBaseURL is the public CHEESE endpoint.
	DefaultBaseURL = "https://api.cheese.deepmedchem.com"

	// DefaultTimeout bounds a single HTTP call.
	DefaultTimeout = 60 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 256 << 20
)

// Secrets holds the CHEESE credentials.
type Secrets struct {
	// APIKey is sent as the X-API-Key header.
	APIKey string `json:"api_key"`
}

// FetchSecrets is a function type that retrieves CHEESE credentials.
// It allows for different secret retrieval strategies (static, environment variables, etc.).
type FetchSecrets func() (Secrets, error)

// StaticSecrets returns a FetchSecrets function that provides a fixed API key.
// This is useful for testing or when the key comes from a flag.
func StaticSecrets(apiKey string) FetchSecrets {
	return func() (Secrets, error) {
		return Secrets{APIKey: apiKey}, nil
	}
}

// EnvSecrets reads the API key from CHEESE_API_KEY.
func EnvSecrets() FetchSecrets {
	return func() (Secrets, error) {
		apiKey := os.Getenv("CHEESE_API_KEY")
		if apiKey == "" {
			return Secrets{}, fmt.Errorf("CHEESE_API_KEY environment variable is not set")
		}
		return Secrets{APIKey: apiKey}, nil
	}
}

// CallObserver is notified after every HTTP call. Status is 0 when no response was received.
type CallObserver interface {
	ObserveCall(endpoint string, status int, d time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver registers a CallObserver, typically a metrics recorder.
func WithObserver(o CallObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// Client talks to the CHEESE API. It implements molsearch.JobClient and molsearch.BulkSearcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getKey     func() (string, error)
	observer   CallObserver
	tracer     trace.Tracer
}

var (
	_ molsearch.JobClient    = (*Client)(nil)
	_ molsearch.BulkSearcher = (*Client)(nil)
)

// NewClient creates a client. Secrets are fetched on first use and cached.
func NewClient(fetchSecrets FetchSecrets, opts ...Option) *Client {
	getKey := sync.OnceValues(func() (string, error) {
		secrets, err := fetchSecrets()
		if err != nil {
			return "", fmt.Errorf("failed to fetch secrets: %w", err)
		}

		if secrets.APIKey == "" {
			return "", fmt.Errorf("APIKey is empty")
		}

		return secrets.APIKey, nil
	})

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		getKey:     getKey,
		tracer:     otel.Tracer("molsearch-cheese"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckCredentials fetches the API key now instead of on the first call.
// The key is cached, so the secret store is still read only once.
func (c *Client) CheckCredentials() error {
	if _, err := c.getKey(); err != nil {
		return errors.Mark(err, molsearch.ErrConfig)
	}
	return nil
}

// call performs one request against endpoint and returns the raw 2xx body.
func (c *Client) call(ctx context.Context, span trace.Span, method, endpoint string, params url.Values, body any) ([]byte, error) {
	apiKey, err := c.getKey()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get API key")
		return nil, errors.Mark(err, molsearch.ErrConfig)
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s body", endpoint)
		}
		reqBody = bytes.NewReader(b)
	}

	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", endpoint)
	}
	requestID := ksuid.New().String()
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	span.SetAttributes(attribute.String("cheese.request_id", requestID))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("%s request failed", endpoint))
		if ctx.Err() != nil {
			return nil, errors.WithSecondaryError(molsearch.ErrCanceled, ctx.Err())
		}
		return nil, errors.WithSecondaryError(
			molsearch.ErrBackendUnavailable,
			errors.Wrapf(err, "%s request failed", endpoint),
		)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observe(endpoint, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response")
		return nil, errors.WithSecondaryError(
			molsearch.ErrBackendUnavailable,
			errors.Wrapf(err, "read %s response", endpoint),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &molsearch.StatusError{Op: endpoint, Code: resp.StatusCode, Body: string(raw)}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, fmt.Sprintf("%s returned HTTP %d", endpoint, resp.StatusCode))
		return nil, statusErr
	}

	return raw, nil
}

func (c *Client) observe(endpoint string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCall(endpoint, status, d)
	}
}

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
