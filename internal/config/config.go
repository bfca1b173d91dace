// Package config loads the optional YAML configuration file of the molsearch command.
package config

import (
	"bytes"
	"io"
	"os"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/cheese"
	"github.com/letmevibethatforyou/molsearch/runner"
	"github.com/letmevibethatforyou/molsearch/sink/pgsink"
)

// DefaultAlgoliaIndex is the index the algolia sink writes to when none is configured.
const DefaultAlgoliaIndex = "molsearch_hits"

// APIConfig holds connection details for the search service.
type APIConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	SecretARN string        `yaml:"secret_arn"`
	Env       string        `yaml:"env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SearchConfig holds the parameters sent with every search.
type SearchConfig struct {
	SubmitMode          string                         `yaml:"submit_mode"`
	Database            string                         `yaml:"db_name"`
	Neighbors           int                            `yaml:"n"`
	PageSize            int                            `yaml:"page_size"`
	SearchType          string                         `yaml:"search_type"`
	SearchQuality       string                         `yaml:"search_quality"`
	IncludeProperties   bool                           `yaml:"include_properties"`
	IncludeMetadata     bool                           `yaml:"include_metadata"`
	DBNameAsList        bool                           `yaml:"db_name_as_list"`
	SimilarityThreshold *float64                       `yaml:"similarity_threshold,omitempty"`
	PropRanges          map[string]molsearch.PropRange `yaml:"prop_ranges,omitempty"`
}

// PollConfig controls the readiness wait.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	MaxWait     time.Duration `yaml:"max_wait"`
	JobStatus   bool          `yaml:"job_status"`
}

// RetryConfig controls per-query retries and pacing.
type RetryConfig struct {
	Retries      int           `yaml:"retries"`
	Base         time.Duration `yaml:"base"`
	Step         time.Duration `yaml:"step"`
	SleepBetween time.Duration `yaml:"sleep_between"`
}

// BulkConfig controls the synchronous bulk variant.
type BulkConfig struct {
	BatchSize int  `yaml:"batch_size"`
	NoBatch   bool `yaml:"no_batch"`
}

// InputConfig describes the query file.
type InputConfig struct {
	Path         string `yaml:"path"`
	SmilesColumn string `yaml:"smiles_column"`
	IDColumn     string `yaml:"id_column"`
}

// PostgresConfig configures the postgres sink.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// DynamoDBConfig configures the dynamodb sink.
type DynamoDBConfig struct {
	Table string `yaml:"table"`
}

// AlgoliaConfig configures the algolia sink. Empty credentials fall back to
// ALGOLIA_APP_ID and ALGOLIA_API_KEY.
type AlgoliaConfig struct {
	Index  string `yaml:"index"`
	AppID  string `yaml:"app_id"`
	APIKey string `yaml:"api_key"`
}

// OutputConfig selects and configures the sink.
type OutputConfig struct {
	Sink      string         `yaml:"sink"`
	Path      string         `yaml:"path"`
	Resume    bool           `yaml:"resume"`
	Overwrite bool           `yaml:"overwrite"`
	Postgres  PostgresConfig `yaml:"postgres"`
	DynamoDB  DynamoDBConfig `yaml:"dynamodb"`
	Algolia   AlgoliaConfig  `yaml:"algolia"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	API         APIConfig    `yaml:"api"`
	Backend     string       `yaml:"backend"`
	Catalogue   string       `yaml:"catalogue"`
	Mode        string       `yaml:"mode"`
	Search      SearchConfig `yaml:"search"`
	Poll        PollConfig   `yaml:"poll"`
	Retry       RetryConfig  `yaml:"retry"`
	Bulk        BulkConfig   `yaml:"bulk"`
	Input       InputConfig  `yaml:"input"`
	Output      OutputConfig `yaml:"output"`
	Log         LogConfig    `yaml:"log"`
	MetricsAddr string       `yaml:"metrics_addr"`
}

// Load reads the config at path and fills unset values with defaults.
// An empty path yields the defaults; a path that does not exist is an error.
func Load(path string) (*AppConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read config %s", path), molsearch.ErrConfig)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected.
func Parse(data []byte) (*AppConfig, error) {
	// decode over the defaults so that explicit zeros such as retries: 0 survive
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Mark(errors.Wrap(err, "parse config"), molsearch.ErrConfig)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			URL:     cheese.DefaultBaseURL,
			Timeout: cheese.DefaultTimeout,
		},
		Backend: "cheese",
		Mode:    "job",
		Search: SearchConfig{
			SubmitMode:    string(molsearch.ModeSynthonGPT),
			Database:      molsearch.DefaultDatabase,
			Neighbors:     molsearch.DefaultNeighbors,
			PageSize:      molsearch.DefaultPageSize,
			SearchType:    molsearch.DefaultSearchType,
			SearchQuality: molsearch.DefaultSearchQuality,
		},
		Poll: PollConfig{
			Interval:    molsearch.DefaultPollInterval,
			MaxInterval: molsearch.DefaultMaxPollInterval,
			MaxWait:     molsearch.DefaultMaxWait,
		},
		Retry: RetryConfig{
			Retries:      runner.DefaultRetries,
			Base:         runner.DefaultRetryBase,
			Step:         runner.DefaultRetryStep,
			SleepBetween: runner.DefaultSleepBetween,
		},
		Bulk: BulkConfig{
			BatchSize: runner.DefaultBatchSize,
		},
		Input: InputConfig{
			SmilesColumn: "smiles",
		},
		Output: OutputConfig{
			Sink: "csv",
			Path: "molsearch_results.csv",
			Postgres: PostgresConfig{
				Table: pgsink.DefaultTable,
			},
			Algolia: AlgoliaConfig{
				Index: DefaultAlgoliaIndex,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Search.Neighbors <= 0 {
		cfg.Search.Neighbors = def.Search.Neighbors
	}
	if cfg.Search.PageSize <= 0 {
		cfg.Search.PageSize = def.Search.PageSize
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = def.Poll.Interval
	}
	if cfg.Poll.MaxInterval <= 0 {
		cfg.Poll.MaxInterval = def.Poll.MaxInterval
	}
	if cfg.Poll.MaxWait <= 0 {
		cfg.Poll.MaxWait = def.Poll.MaxWait
	}
	if cfg.Retry.Retries < 0 {
		cfg.Retry.Retries = 0
	}
	if cfg.Bulk.BatchSize <= 0 {
		cfg.Bulk.BatchSize = def.Bulk.BatchSize
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = def.API.Timeout
	}
}

// Validate checks the enumerated settings.
func (c *AppConfig) Validate() error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"backend", c.Backend, []string{"cheese", "inmemory"}},
		{"mode", c.Mode, []string{"job", "bulk"}},
		{"search.submit_mode", c.Search.SubmitMode, []string{string(molsearch.ModeSynthonGPT), string(molsearch.ModeMolSearch)}},
		{"output.sink", c.Output.Sink, []string{"csv", "postgres", "dynamodb", "algolia"}},
		{"log.format", c.Log.Format, []string{"auto", "json", "text", "pretty"}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.allowed, ch.value) {
			return errors.Mark(errors.Newf("%s must be one of %v, got %q", ch.name, ch.allowed, ch.value), molsearch.ErrConfig)
		}
	}
	if c.Output.Resume && c.Output.Overwrite {
		return errors.Mark(errors.New("output.resume and output.overwrite are mutually exclusive"), molsearch.ErrConfig)
	}
	return nil
}
