package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	if onAWS() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func onAWS() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != ""
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "molsearch",
		Usage: "Run a list of molecules through the CHEESE similarity search and collect the neighbors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file; flags override its values",
				EnvVars: []string{"MOLSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "CSV file with one query molecule per row",
			},
			&cli.StringFlag{
				Name:  "smiles-col",
				Usage: "Input column holding the query molecule",
			},
			&cli.StringFlag{
				Name:  "id-col",
				Usage: "Input column holding the query id; the row number is used when empty",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output CSV path for the csv sink",
			},
			&cli.StringFlag{
				Name:  "sink",
				Usage: "Where hits are written: csv, postgres, dynamodb or algolia",
			},
			&cli.StringFlag{
				Name:    "pg-dsn",
				Usage:   "Postgres connection string for the postgres sink",
				EnvVars: []string{"MOLSEARCH_PG_DSN", "DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:  "pg-table",
				Usage: "Postgres table for the postgres sink",
			},
			&cli.StringFlag{
				Name:    "dynamodb-table",
				Usage:   "DynamoDB table for the dynamodb sink",
				EnvVars: []string{"MOLSEARCH_DYNAMODB_TABLE"},
			},
			&cli.StringFlag{
				Name:  "algolia-index",
				Usage: "Algolia index for the algolia sink",
			},
			&cli.StringFlag{
				Name:    "algolia-app-id",
				Usage:   "Algolia application ID",
				EnvVars: []string{"ALGOLIA_APP_ID"},
			},
			&cli.StringFlag{
				Name:    "algolia-api-key",
				Usage:   "Algolia write API key",
				EnvVars: []string{"ALGOLIA_API_KEY"},
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Skip queries already present in the output",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "Discard existing output before the run",
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the CHEESE API",
				EnvVars: []string{"CHEESE_API_URL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "CHEESE API key",
				EnvVars: []string{"CHEESE_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "secret-arn",
				Usage:   "ARN of AWS Secrets Manager secret containing the CHEESE API key",
				EnvVars: []string{"CHEESE_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment whose {env}/cheese secret in AWS Secrets Manager holds the CHEESE API key",
				EnvVars: []string{"ENVIRONMENT"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout of a single HTTP call",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "cheese, or inmemory for an offline run against --catalogue",
			},
			&cli.StringFlag{
				Name:  "catalogue",
				Usage: "CSV catalogue (smiles,id) searched by the inmemory backend",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "job (asynchronous jobs with paging) or bulk (synchronous batch search)",
			},
			&cli.StringFlag{
				Name:  "submit-mode",
				Usage: "Job submission endpoint: synthongpt or molsearch",
			},
			&cli.StringFlag{
				Name:  "db-name",
				Usage: "Database to search",
			},
			&cli.IntFlag{
				Name:  "n",
				Usage: "Number of neighbors per query",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Entries per results page",
			},
			&cli.StringFlag{
				Name:  "search-type",
				Usage: "Similarity method, e.g. espsim_shape or morgan",
			},
			&cli.StringFlag{
				Name:  "search-quality",
				Usage: "Search depth, e.g. fast or accurate",
			},
			&cli.BoolFlag{
				Name:  "include-properties",
				Usage: "Ask for molecular properties",
			},
			&cli.BoolFlag{
				Name:  "include-metadata",
				Usage: "Ask for job metadata",
			},
			&cli.BoolFlag{
				Name:  "db-name-as-list",
				Usage: "Send the database name as a list on page requests",
			},
			&cli.StringSliceFlag{
				Name:  "prop-range",
				Usage: "Property range in name=min:max format; either bound may be empty; repeatable",
			},
			&cli.Float64Flag{
				Name:  "sim-th",
				Usage: "Keep neighbors with similarity at or above this threshold",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Base interval between readiness probes",
			},
			&cli.DurationFlag{
				Name:  "max-poll-interval",
				Usage: "Upper bound of a single readiness sleep",
			},
			&cli.DurationFlag{
				Name:  "max-wait",
				Usage: "Maximum time to wait for a job's results",
			},
			&cli.BoolFlag{
				Name:  "job-status",
				Usage: "Log the service's job status while waiting",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Additional attempts per query or batch",
			},
			&cli.DurationFlag{
				Name:  "retry-base",
				Usage: "Sleep before the first retry",
			},
			&cli.DurationFlag{
				Name:  "retry-step",
				Usage: "Increase of the retry sleep per attempt",
			},
			&cli.DurationFlag{
				Name:  "sleep-between",
				Usage: "Pause between processed queries",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Queries per bulk call",
			},
			&cli.BoolFlag{
				Name:  "no-batch",
				Usage: "In bulk mode, send one synchronous search per query",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address, e.g. :9090",
				EnvVars: []string{"MOLSEARCH_METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"MOLSEARCH_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "auto, json, text or pretty",
			},
		},
		Action: runAction,
	}
}
