package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/cheese"
	"github.com/letmevibethatforyou/molsearch/inmemory"
	"github.com/letmevibethatforyou/molsearch/internal/config"
	"github.com/letmevibethatforyou/molsearch/internal/csvin"
	"github.com/letmevibethatforyou/molsearch/internal/logx"
	"github.com/letmevibethatforyou/molsearch/internal/metrics"
	"github.com/letmevibethatforyou/molsearch/runner"
	"github.com/letmevibethatforyou/molsearch/sink"
	"github.com/letmevibethatforyou/molsearch/sink/algoliasink"
	"github.com/letmevibethatforyou/molsearch/sink/csvsink"
	"github.com/letmevibethatforyou/molsearch/sink/dynamosink"
	"github.com/letmevibethatforyou/molsearch/sink/pgsink"
)

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, c.App.Writer)
	if err != nil {
		return err
	}

	searchOpts, err := searchOptions(cfg.Search, c.StringSlice("prop-range"))
	if err != nil {
		return err
	}
	logFilters(ctx, logger, molsearch.NewSearchConfig(searchOpts...).Filters, cfg.Mode)

	if cfg.Input.Path == "" {
		return errors.Mark(errors.New("no input file given; use --input"), molsearch.ErrConfig)
	}
	qs, err := csvin.ReadFile(cfg.Input.Path, cfg.Input.SmilesColumn, cfg.Input.IDColumn)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "loaded queries", "input", cfg.Input.Path, "count", len(qs))

	var m *metrics.Metrics
	var recorder runner.Recorder
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		recorder = m
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.ErrorContext(ctx, "metrics server stopped", "error", err)
			}
		}()
	}

	jobs, bulk, err := newBackend(ctx, cfg, m, logger)
	if err != nil {
		return err
	}

	runID := ksuid.New().String()
	out, err := openSink(ctx, cfg.Output, runID)
	if err != nil {
		return err
	}
	defer out.Close()

	r := runner.New(jobs, bulk, out, runner.Config{
		Retries:      cfg.Retry.Retries,
		RetryBase:    cfg.Retry.Base,
		RetryStep:    cfg.Retry.Step,
		SleepBetween: cfg.Retry.SleepBetween,
		Poll: molsearch.PollConfig{
			Interval:    cfg.Poll.Interval,
			MaxInterval: cfg.Poll.MaxInterval,
			MaxWait:     cfg.Poll.MaxWait,
		},
		UseJobStatus: cfg.Poll.JobStatus,
		BatchSize:    cfg.Bulk.BatchSize,
		NoBatch:      cfg.Bulk.NoBatch,
		Options:      searchOpts,
		Logger:       logger,
		Metrics:      recorder,
		RunID:        runID,
	})

	logger.InfoContext(ctx, "starting run",
		"run_id", r.RunID(),
		"mode", cfg.Mode,
		"backend", cfg.Backend,
		"queries", len(qs),
		"output", out.Location(),
		"resume", cfg.Output.Resume,
	)

	var sum runner.Summary
	if cfg.Mode == "bulk" {
		sum, err = r.RunBulk(ctx, qs)
	} else {
		sum, err = r.Run(ctx, qs)
	}

	for id, ferr := range sum.Failures {
		logger.WarnContext(ctx, "query failed", "query_id", id, "error", ferr)
	}
	logger.InfoContext(ctx, "run finished", "summary", sum)

	if err != nil {
		return errors.Wrap(err, "run aborted")
	}
	return nil
}

// loadConfig reads the optional config file and applies every flag the user set on top.
func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = strings.TrimSpace(c.String(name))
		}
	}
	setInt := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}

	setString("input", &cfg.Input.Path)
	setString("smiles-col", &cfg.Input.SmilesColumn)
	setString("id-col", &cfg.Input.IDColumn)
	setString("out", &cfg.Output.Path)
	setString("sink", &cfg.Output.Sink)
	setString("pg-dsn", &cfg.Output.Postgres.DSN)
	setString("pg-table", &cfg.Output.Postgres.Table)
	setString("dynamodb-table", &cfg.Output.DynamoDB.Table)
	setString("algolia-index", &cfg.Output.Algolia.Index)
	setString("algolia-app-id", &cfg.Output.Algolia.AppID)
	setString("algolia-api-key", &cfg.Output.Algolia.APIKey)
	setBool("resume", &cfg.Output.Resume)
	setBool("overwrite", &cfg.Output.Overwrite)
	setString("api-url", &cfg.API.URL)
	setString("api-key", &cfg.API.APIKey)
	setString("secret-arn", &cfg.API.SecretARN)
	setString("env", &cfg.API.Env)
	setString("backend", &cfg.Backend)
	setString("catalogue", &cfg.Catalogue)
	setString("mode", &cfg.Mode)
	setString("submit-mode", &cfg.Search.SubmitMode)
	setString("db-name", &cfg.Search.Database)
	setInt("n", &cfg.Search.Neighbors)
	setInt("page-size", &cfg.Search.PageSize)
	setString("search-type", &cfg.Search.SearchType)
	setString("search-quality", &cfg.Search.SearchQuality)
	setBool("include-properties", &cfg.Search.IncludeProperties)
	setBool("include-metadata", &cfg.Search.IncludeMetadata)
	setBool("db-name-as-list", &cfg.Search.DBNameAsList)
	setBool("job-status", &cfg.Poll.JobStatus)
	setInt("retries", &cfg.Retry.Retries)
	setInt("batch-size", &cfg.Bulk.BatchSize)
	setBool("no-batch", &cfg.Bulk.NoBatch)
	setString("metrics-addr", &cfg.MetricsAddr)
	setString("log-level", &cfg.Log.Level)
	setString("log-format", &cfg.Log.Format)

	if c.IsSet("sim-th") {
		th := c.Float64("sim-th")
		cfg.Search.SimilarityThreshold = &th
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"timeout", &cfg.API.Timeout},
		{"poll-interval", &cfg.Poll.Interval},
		{"max-poll-interval", &cfg.Poll.MaxInterval},
		{"max-wait", &cfg.Poll.MaxWait},
		{"retry-base", &cfg.Retry.Base},
		{"retry-step", &cfg.Retry.Step},
		{"sleep-between", &cfg.Retry.SleepBetween},
	}
	for _, d := range durations {
		if !c.IsSet(d.name) {
			continue
		}
		v := c.Duration(d.name)
		if v < 0 {
			slog.WarnContext(c.Context, "duration cannot be negative; keeping configured value", "flag", d.name, "value", v, "kept", *d.dst)
			continue
		}
		*d.dst = v
	}

	if cfg.Search.Neighbors <= 0 {
		slog.WarnContext(c.Context, "n must be positive; falling back to default", "n", cfg.Search.Neighbors, "default", molsearch.DefaultNeighbors)
		cfg.Search.Neighbors = molsearch.DefaultNeighbors
	}
	if cfg.Search.PageSize <= 0 {
		slog.WarnContext(c.Context, "page size must be positive; falling back to default", "page_size", cfg.Search.PageSize, "default", molsearch.DefaultPageSize)
		cfg.Search.PageSize = molsearch.DefaultPageSize
	}
	if cfg.Retry.Retries < 0 {
		slog.WarnContext(c.Context, "retries cannot be negative; resetting to 0", "retries", cfg.Retry.Retries)
		cfg.Retry.Retries = 0
	}
	if cfg.Bulk.BatchSize <= 0 {
		slog.WarnContext(c.Context, "batch size must be positive; using 1", "batch_size", cfg.Bulk.BatchSize)
		cfg.Bulk.BatchSize = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the run logger. auto selects JSON on AWS and the colored handler elsewhere.
func newLogger(lc config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid log level %q", lc.Level), molsearch.ErrConfig)
	}
	opts := slog.HandlerOptions{Level: level}

	format := lc.Format
	if format == "auto" {
		format = "pretty"
		if onAWS() {
			format = "json"
		}
	}

	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &opts)
	case "text":
		h = slog.NewTextHandler(w, &opts)
	default:
		h = logx.NewPrettyHandler(w, logx.PrettyHandlerOptions{SlogOpts: opts})
	}
	return slog.New(h), nil
}

// logFilters reports the active neighbor filters. Synchronous searches carry no filters.
func logFilters(ctx context.Context, logger *slog.Logger, f molsearch.Filters, mode string) {
	if f.Empty() {
		return
	}
	attrs := []any{"prop_ranges", f.PropNames()}
	if th := f.SimilarityThreshold; th != nil {
		attrs = append(attrs, "sim_th", *th)
	}
	logger.InfoContext(ctx, "filtering neighbors", attrs...)
	if mode == "bulk" {
		logger.WarnContext(ctx, "bulk searches ignore neighbor filters; use --mode job to apply them")
	}
}

// searchOptions turns the search settings into options passed to every remote call.
func searchOptions(sc config.SearchConfig, rawRanges []string) ([]molsearch.SearchOption, error) {
	opts := []molsearch.SearchOption{
		molsearch.WithSubmitMode(molsearch.SubmitMode(sc.SubmitMode)),
		molsearch.WithDatabase(sc.Database),
		molsearch.WithNeighbors(sc.Neighbors),
		molsearch.WithPageSize(sc.PageSize),
		molsearch.WithSearchType(sc.SearchType),
		molsearch.WithSearchQuality(sc.SearchQuality),
		molsearch.WithIncludeProperties(sc.IncludeProperties),
		molsearch.WithIncludeMetadata(sc.IncludeMetadata),
		molsearch.WithDBNameAsList(sc.DBNameAsList),
		molsearch.WithPropRanges(sc.PropRanges),
	}
	if sc.SimilarityThreshold != nil {
		opts = append(opts, molsearch.WithSimilarityThreshold(*sc.SimilarityThreshold))
	}

	for _, raw := range rawRanges {
		if strings.TrimSpace(raw) == "" {
			return nil, errors.Mark(errors.New("property range cannot be empty"), molsearch.ErrConfig)
		}
		name, r, err := molsearch.ParsePropRange(raw)
		if err != nil {
			return nil, errors.Wrap(err, "invalid --prop-range")
		}
		opts = append(opts, molsearch.WithPropRange(name, r.Min, r.Max))
	}
	return opts, nil
}

// newBackend returns the job client and bulk searcher for the configured backend.
// For the remote backend the credential is resolved before any query runs.
func newBackend(ctx context.Context, cfg *config.AppConfig, m *metrics.Metrics, logger *slog.Logger) (molsearch.JobClient, molsearch.BulkSearcher, error) {
	if cfg.Backend == "inmemory" {
		if cfg.Catalogue == "" {
			return nil, nil, errors.Mark(errors.New("the inmemory backend needs --catalogue"), molsearch.ErrConfig)
		}
		molecules, err := csvin.ReadFile(cfg.Catalogue, "smiles", "id")
		if err != nil {
			return nil, nil, errors.Wrap(err, "load catalogue")
		}
		svc := inmemory.New()
		for _, mol := range molecules {
			svc.AddMolecule(inmemory.Molecule{ID: mol.ID, Smiles: mol.Molecule})
		}
		logger.InfoContext(ctx, "using in-memory backend", "catalogue", cfg.Catalogue, "molecules", svc.Size())
		return svc, svc, nil
	}

	var fetchSecrets cheese.FetchSecrets
	switch {
	case cfg.API.SecretARN != "":
		logger.InfoContext(ctx, "using AWS Secrets Manager for CHEESE credentials", "secret_arn", cfg.API.SecretARN)
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, errors.Mark(errors.Wrap(err, "failed to load AWS config"), molsearch.ErrConfig)
		}
		fetchSecrets = cheese.AWSSecretsFromARN(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.API.SecretARN)
	case cfg.API.Env != "":
		logger.InfoContext(ctx, "using AWS Secrets Manager for CHEESE credentials", "env", cfg.API.Env)
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, errors.Mark(errors.Wrap(err, "failed to load AWS config"), molsearch.ErrConfig)
		}
		fetchSecrets = cheese.AWSSecrets(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.API.Env)
	case cfg.API.APIKey != "":
		fetchSecrets = cheese.StaticSecrets(cfg.API.APIKey)
	default:
		fetchSecrets = cheese.EnvSecrets()
	}

	opts := []cheese.Option{
		cheese.WithBaseURL(cfg.API.URL),
		cheese.WithTimeout(cfg.API.Timeout),
	}
	if m != nil {
		opts = append(opts, cheese.WithObserver(m))
	}
	client := cheese.NewClient(fetchSecrets, opts...)
	if err := client.CheckCredentials(); err != nil {
		return nil, nil, errors.Wrap(err, "missing CHEESE credentials")
	}
	return client, client, nil
}

// openSink opens the configured sink.
func openSink(ctx context.Context, oc config.OutputConfig, runID string) (molsearch.Sink, error) {
	mode, err := sink.ModeFor(oc.Resume, oc.Overwrite)
	if err != nil {
		return nil, errors.Mark(err, molsearch.ErrConfig)
	}

	switch oc.Sink {
	case "postgres":
		if oc.Postgres.DSN == "" {
			return nil, errors.Mark(errors.New("the postgres sink needs --pg-dsn"), molsearch.ErrConfig)
		}
		s, err := pgsink.Connect(ctx, oc.Postgres.DSN, oc.Postgres.Table, mode, pgsink.WithRunID(runID))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to load AWS config"), molsearch.ErrConfig)
		}
		s, err := dynamosink.New(ctx, dynamodb.NewFromConfig(awsCfg), oc.DynamoDB.Table, mode, dynamosink.WithRunID(runID))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "algolia":
		fetchSecrets := algoliasink.EnvSecrets()
		if oc.Algolia.AppID != "" || oc.Algolia.APIKey != "" {
			fetchSecrets = algoliasink.StaticSecrets(oc.Algolia.AppID, oc.Algolia.APIKey)
		}
		client := algoliasink.NewClient(fetchSecrets)
		if err := client.CheckCredentials(); err != nil {
			return nil, errors.Wrap(err, "missing Algolia credentials")
		}
		s, err := algoliasink.New(ctx, client.Index(oc.Algolia.Index), mode, algoliasink.WithRunID(runID))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := csvsink.Open(oc.Path, mode)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
