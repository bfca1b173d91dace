package main

import (
	"context"
	"encoding/csv"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

var (
	// fragments are chained into linear molecules; ranking only needs plausible strings.
	fragments = []string{"C", "CC", "N", "O", "c1ccccc1", "C(=O)", "Cl", "F", "S", "C#N", "OC", "NC(=O)"}

	rings = []string{"C1CC1", "C1CCNCC1", "c1ccncc1", "C1CCOC1"}
)

// generateMolecule builds a random linear molecule of 2 to 6 fragments,
// sometimes capped with a ring.
func generateMolecule(r *rand.Rand) string {
	var b strings.Builder
	b.WriteString("C")
	for range r.IntN(5) + 2 {
		b.WriteString(fragments[r.IntN(len(fragments))])
	}
	if r.IntN(3) == 0 {
		b.WriteString(rings[r.IntN(len(rings))])
	}
	return b.String()
}

func writeCatalogue(ctx context.Context, path string, count int, r *rand.Rand) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"smiles", "id"}); err != nil {
		return errors.Wrap(err, "write header")
	}

	seen := make(map[string]bool, count)
	for written := 0; written < count; {
		if err := ctx.Err(); err != nil {
			return err
		}
		smiles := generateMolecule(r)
		if seen[smiles] {
			continue
		}
		seen[smiles] = true

		id := "MOL" + ksuid.New().String()
		if err := w.Write([]string{smiles, id}); err != nil {
			return errors.Wrapf(err, "write molecule %d", written+1)
		}
		written++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush catalogue")
	}
	return f.Close()
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	out := c.String("out")
	count := c.Int("count")
	seed := c.Uint64("seed")

	if count <= 0 {
		return errors.Newf("count must be positive, got %d", count)
	}

	slog.InfoContext(ctx, "Generating catalogue",
		"out", out,
		"count", count,
		"seed", seed,
	)

	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	if err := writeCatalogue(ctx, out, count, r); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Successfully generated catalogue", "out", out, "count", count)
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "catalogue",
		Usage: "Generate a random molecule catalogue for the inmemory backend of molsearch",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Catalogue CSV to write (smiles,id)",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Number of molecules to generate",
				Value:   500,
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Seed of the generator; the same seed gives the same molecules",
				Value: 1,
			},
		},
		Action: runAction,
	}
}

func main() {
	// Configure JSON logging for AWS environments
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}
