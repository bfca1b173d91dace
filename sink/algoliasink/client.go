package algoliasink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/molsearch"
)

// Secrets holds the Algolia application credentials.
type Secrets struct {
	// AppID is the Algolia application ID.
	AppID string
	// WriteAPIKey is the Algolia write API key.
	WriteAPIKey string
}

// FetchSecrets is a function type that retrieves Algolia credentials.
// It allows for different secret retrieval strategies (static, environment variables, etc.).
type FetchSecrets func() (Secrets, error)

// StaticSecrets returns a FetchSecrets function that provides static credentials.
func StaticSecrets(appID, writeAPIKey string) FetchSecrets {
	return func() (Secrets, error) {
		return Secrets{
			AppID:       appID,
			WriteAPIKey: writeAPIKey,
		}, nil
	}
}

// EnvSecrets reads the credentials from ALGOLIA_APP_ID and ALGOLIA_API_KEY.
func EnvSecrets() FetchSecrets {
	return func() (Secrets, error) {
		appID := os.Getenv("ALGOLIA_APP_ID")
		if appID == "" {
			return Secrets{}, fmt.Errorf("ALGOLIA_APP_ID environment variable is not set")
		}

		apiKey := os.Getenv("ALGOLIA_API_KEY")
		if apiKey == "" {
			return Secrets{}, fmt.Errorf("ALGOLIA_API_KEY environment variable is not set")
		}

		return Secrets{
			AppID:       appID,
			WriteAPIKey: apiKey,
		}, nil
	}
}

// Client is a lazily authenticated Algolia client.
type Client struct {
	getClient func() (*search.Client, error)
	tracer    trace.Tracer
}

// NewClient creates a client. Secrets are fetched on first use.
func NewClient(fetchSecrets FetchSecrets) *Client {
	getClient := sync.OnceValues(func() (*search.Client, error) {
		secrets, err := fetchSecrets()
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch secrets")
		}

		if secrets.AppID == "" {
			return nil, errors.New("AppID is empty")
		}

		if secrets.WriteAPIKey == "" {
			return nil, errors.New("WriteAPIKey is empty")
		}

		return search.NewClient(secrets.AppID, secrets.WriteAPIKey), nil
	})

	return &Client{
		getClient: getClient,
		tracer:    otel.Tracer("molsearch-algolia"),
	}
}

// CheckCredentials resolves the credentials without calling Algolia.
func (c *Client) CheckCredentials() error {
	if _, err := c.getClient(); err != nil {
		return errors.Mark(err, molsearch.ErrConfig)
	}
	return nil
}

// Index returns the named index.
func (c *Client) Index(name string) Index {
	return &index{client: c, name: name}
}

// index implements Index over the Algolia SDK. Every write waits for the indexing task.
type index struct {
	client *Client
	name   string
}

func (ix *index) Name() string {
	return ix.name
}

func (ix *index) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (*search.Index, trace.Span, error) {
	_, span := ix.client.tracer.Start(ctx, op,
		trace.WithAttributes(append(attrs, attribute.String("algolia.index_name", ix.name))...),
	)

	client, err := ix.client.getClient()
	if err != nil {
		failSpan(span, err, "failed to get Algolia client")
		span.End()
		return nil, nil, errors.WithSecondaryError(molsearch.ErrBackendUnavailable, err)
	}
	return client.InitIndex(ix.name), span, nil
}

func (ix *index) SaveObjects(ctx context.Context, objects []Object) error {
	if len(objects) == 0 {
		return nil
	}

	idx, span, err := ix.start(ctx, "algolia.save_objects", attribute.Int("algolia.object_count", len(objects)))
	if err != nil {
		return err
	}
	defer span.End()

	res, err := idx.SaveObjects(objects)
	if err == nil {
		err = res.Wait()
	}
	if err != nil {
		failSpan(span, err, fmt.Sprintf("failed to save %d objects to index %s", len(objects), ix.name))
		return errors.Wrapf(err, "failed to save objects to Algolia index %s", ix.name)
	}

	span.SetStatus(codes.Ok, fmt.Sprintf("saved %d objects", len(objects)))
	return nil
}

func (ix *index) QueryIDs(ctx context.Context) ([]string, error) {
	idx, span, err := ix.start(ctx, "algolia.browse_query_ids")
	if err != nil {
		return nil, err
	}
	defer span.End()

	it, err := idx.BrowseObjects(opt.AttributesToRetrieve(queryIDAttribute))
	if err != nil {
		failSpan(span, err, fmt.Sprintf("failed to browse index %s", ix.name))
		return nil, errors.Wrapf(err, "failed to browse Algolia index %s", ix.name)
	}

	var ids []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithSecondaryError(molsearch.ErrCanceled, err)
		}
		var rec struct {
			QueryID string `json:"query_id"`
		}
		if _, err := it.Next(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			failSpan(span, err, fmt.Sprintf("failed to browse index %s", ix.name))
			return nil, errors.Wrapf(err, "failed to browse Algolia index %s", ix.name)
		}
		if rec.QueryID != "" {
			ids = append(ids, rec.QueryID)
		}
	}

	span.SetAttributes(attribute.Int("algolia.object_count", len(ids)))
	span.SetStatus(codes.Ok, "browsed query ids")
	return ids, nil
}

func (ix *index) Clear(ctx context.Context) error {
	idx, span, err := ix.start(ctx, "algolia.clear_objects")
	if err != nil {
		return err
	}
	defer span.End()

	res, err := idx.ClearObjects()
	if err == nil {
		err = res.Wait()
	}
	if err != nil {
		failSpan(span, err, fmt.Sprintf("failed to clear index %s", ix.name))
		return errors.Wrapf(err, "failed to clear Algolia index %s", ix.name)
	}

	span.SetStatus(codes.Ok, "index cleared")
	return nil
}

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
