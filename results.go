package molsearch

import (
	"strconv"
	"strings"
)

// SelfHitID is the identifier the service uses to echo the query molecule back.
// Hits carrying it are not neighbors and are never emitted.
const SelfHitID = "Query Molecule"

// syntheticSuffix is appended by the service to catalogue identifiers.
const syntheticSuffix = "-DMCH"

// Header is the output header row.
var Header = []string{"query_id", "query_smiles", "hit_smiles", "hit_id", "similarity"}

// JobHandle is the opaque token identifying a submitted search job.
type JobHandle string

// Query is one input molecule to search for.
type Query struct {
	// ID identifies the query in the output. Never empty.
	ID string

	// Molecule is the query structure, passed to the service unmodified.
	Molecule string
}

// Validate checks that both fields are present.
func (q Query) Validate() error {
	if strings.TrimSpace(q.ID) == "" || strings.TrimSpace(q.Molecule) == "" {
		return ErrInvalidQuery
	}
	return nil
}

// Hit is one neighbor returned for a query.
type Hit struct {
	// Molecule is the neighbor structure.
	Molecule string

	// ID is the catalogue identifier with the synthetic suffix removed.
	ID string

	// Similarity is the score reported by the service, nil when absent or not numeric.
	Similarity *float64
}

// Page is one normalized slice of a job's result set.
type Page struct {
	// Number is the zero-based page number.
	Number int

	// Entries is the number of positions aligned across all parallel arrays,
	// counted before self-hits and out-of-range entries are dropped.
	Entries int

	// IDs is the number of identifier entries in the payload.
	IDs int

	// Hits contains the usable hits of this page.
	Hits []Hit
}

// Row is one output record.
type Row struct {
	QueryID       string
	QueryMolecule string
	HitMolecule   string
	HitID         string
	Similarity    *float64
}

// Rows pairs every hit with its query.
func Rows(q Query, hits []Hit) []Row {
	rows := make([]Row, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, Row{
			QueryID:       q.ID,
			QueryMolecule: q.Molecule,
			HitMolecule:   h.Molecule,
			HitID:         h.ID,
			Similarity:    h.Similarity,
		})
	}
	return rows
}

// Record renders the row in Header order. An absent similarity is an empty cell.
func (r Row) Record() []string {
	return []string{r.QueryID, r.QueryMolecule, r.HitMolecule, r.HitID, FormatSimilarity(r.Similarity)}
}

// FormatSimilarity renders a score with the shortest exact representation.
func FormatSimilarity(s *float64) string {
	if s == nil {
		return ""
	}
	return strconv.FormatFloat(*s, 'f', -1, 64)
}

// CleanID trims an identifier and strips the synthetic suffix.
func CleanID(id string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.TrimSpace(id), syntheticSuffix, ""))
}

// IsSelfHit reports whether a cleaned identifier is the echoed query.
func IsSelfHit(id string) bool {
	return id == SelfHitID
}
