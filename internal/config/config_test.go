package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letmevibethatforyou/molsearch"
)

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "cheese", cfg.Backend)
	assert.Equal(t, 2, cfg.Retry.Retries)
	assert.Equal(t, molsearch.DefaultPageSize, cfg.Search.PageSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, molsearch.ErrConfig))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  url: https://cheese.example.org
  timeout: 90s
mode: bulk
search:
  submit_mode: molsearch
  db_name: ZINC22
  n: 250
  similarity_threshold: 0.4
  prop_ranges:
    heavy_atoms:
      min: 10
      max: 30
    logp:
      max: 5
retry:
  retries: 0
  sleep_between: 1s
poll:
  max_wait: 2m
output:
  sink: dynamodb
  resume: true
  dynamodb:
    table: hits
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://cheese.example.org", cfg.API.URL)
	assert.Equal(t, 90*time.Second, cfg.API.Timeout)
	assert.Equal(t, "bulk", cfg.Mode)
	assert.Equal(t, "molsearch", cfg.Search.SubmitMode)
	assert.Equal(t, "ZINC22", cfg.Search.Database)
	assert.Equal(t, 250, cfg.Search.Neighbors)
	require.NotNil(t, cfg.Search.SimilarityThreshold)
	assert.Equal(t, 0.4, *cfg.Search.SimilarityThreshold)

	require.Len(t, cfg.Search.PropRanges, 2)
	ha := cfg.Search.PropRanges["heavy_atoms"]
	require.NotNil(t, ha.Min)
	require.NotNil(t, ha.Max)
	assert.Equal(t, 10.0, *ha.Min)
	assert.Equal(t, 30.0, *ha.Max)
	assert.Nil(t, cfg.Search.PropRanges["logp"].Min)

	// explicit zero retries survive
	assert.Equal(t, 0, cfg.Retry.Retries)
	assert.Equal(t, time.Second, cfg.Retry.SleepBetween)
	assert.Equal(t, 1500*time.Millisecond, cfg.Retry.Step)
	assert.Equal(t, 2*time.Minute, cfg.Poll.MaxWait)
	assert.Equal(t, molsearch.DefaultPollInterval, cfg.Poll.Interval)

	assert.Equal(t, "dynamodb", cfg.Output.Sink)
	assert.Equal(t, "hits", cfg.Output.DynamoDB.Table)
	assert.True(t, cfg.Output.Resume)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *AppConfig)
	}{
		{
			name: "empty document",
			yaml: "",
			check: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, Default(), cfg)
			},
		},
		{
			name: "non-positive values fall back to defaults",
			yaml: "search:\n  page_size: 0\n  n: -1\nbulk:\n  batch_size: 0\nretry:\n  retries: -3\n",
			check: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, molsearch.DefaultPageSize, cfg.Search.PageSize)
				assert.Equal(t, molsearch.DefaultNeighbors, cfg.Search.Neighbors)
				assert.Equal(t, 1, cfg.Bulk.BatchSize)
				assert.Equal(t, 0, cfg.Retry.Retries)
			},
		},
		{
			name: "algolia sink keeps the default index",
			yaml: "api:\n  env: prod\noutput:\n  sink: algolia\n  algolia:\n    app_id: APP\n",
			check: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "algolia", cfg.Output.Sink)
				assert.Equal(t, DefaultAlgoliaIndex, cfg.Output.Algolia.Index)
				assert.Equal(t, "APP", cfg.Output.Algolia.AppID)
				assert.Empty(t, cfg.Output.Algolia.APIKey)
				assert.Equal(t, "prod", cfg.API.Env)
			},
		},
		{name: "unknown key", yaml: "output:\n  colour: blue\n", wantErr: true},
		{name: "bad backend", yaml: "backend: remote\n", wantErr: true},
		{name: "bad mode", yaml: "mode: stream\n", wantErr: true},
		{name: "bad submit mode", yaml: "search:\n  submit_mode: fast\n", wantErr: true},
		{name: "bad sink", yaml: "output:\n  sink: s3\n", wantErr: true},
		{name: "resume and overwrite", yaml: "output:\n  resume: true\n  overwrite: true\n", wantErr: true},
		{name: "malformed", yaml: "search: [1, 2\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, molsearch.ErrConfig))
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
