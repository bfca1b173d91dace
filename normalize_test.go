package molsearch

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestNormalizeParallelArrays(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantHits    []Hit
		wantEntries int
		wantIDs     int
	}{
		{
			name:        "arrays without scores",
			payload:     `{"smiles": ["A","B"], "id": ["1","2"]}`,
			wantHits:    []Hit{{Molecule: "A", ID: "1"}, {Molecule: "B", ID: "2"}},
			wantEntries: 2,
			wantIDs:     2,
		},
		{
			name:        "suffix is stripped",
			payload:     `{"smiles": ["CCO"], "id": ["ZINC000123-DMCH"], "similarity": [0.9]}`,
			wantHits:    []Hit{{Molecule: "CCO", ID: "ZINC000123", Similarity: ptr(0.9)}},
			wantEntries: 1,
			wantIDs:     1,
		},
		{
			name:        "self hit is dropped at any position",
			payload:     `{"smiles": ["Q","A","B"], "id": ["x","Query Molecule","y"], "similarity": [1, 0.8, 0.7]}`,
			wantHits:    []Hit{{Molecule: "Q", ID: "x", Similarity: ptr(1)}, {Molecule: "B", ID: "y", Similarity: ptr(0.7)}},
			wantEntries: 3,
			wantIDs:     3,
		},
		{
			name:        "truncated to shortest present array",
			payload:     `{"smiles": ["A","B","C"], "id": ["1","2","3"], "similarity": [0.5, 0.4]}`,
			wantHits:    []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.5)}, {Molecule: "B", ID: "2", Similarity: ptr(0.4)}},
			wantEntries: 2,
			wantIDs:     3,
		},
		{
			name:        "non numeric similarity is absent",
			payload:     `{"smiles": ["A"], "id": ["1"], "similarity": ["n/a"]}`,
			wantHits:    []Hit{{Molecule: "A", ID: "1"}},
			wantEntries: 1,
			wantIDs:     1,
		},
		{
			name:        "string similarity is coerced",
			payload:     `{"smiles": ["A"], "id": ["1"], "similarity": ["0.25"]}`,
			wantHits:    []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.25)}},
			wantEntries: 1,
			wantIDs:     1,
		},
		{
			name:        "integer identifiers keep their text",
			payload:     `{"smiles": ["A"], "id": [12345678901234567]}`,
			wantHits:    []Hit{{Molecule: "A", ID: "12345678901234567"}},
			wantEntries: 1,
			wantIDs:     1,
		},
		{
			name:        "out of range entries are dropped but counted",
			payload:     `{"smiles": ["A","B"], "id": ["1","2"], "in_prop_range": [false, true]}`,
			wantHits:    []Hit{{Molecule: "B", ID: "2"}},
			wantEntries: 2,
			wantIDs:     2,
		},
		{
			name:        "empty molecule or identifier is dropped",
			payload:     `{"smiles": ["", "B", "C"], "id": ["1", " ", "3"]}`,
			wantHits:    []Hit{{Molecule: "C", ID: "3"}},
			wantEntries: 3,
			wantIDs:     3,
		},
		{
			name:        "object without result fields is an empty page",
			payload:     `{"status": "PENDING"}`,
			wantEntries: 0,
			wantIDs:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := NormalizePage([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHits, page.Hits)
			assert.Equal(t, tt.wantEntries, page.Entries)
			assert.Equal(t, tt.wantIDs, page.IDs)
		})
	}
}

func TestNormalizeNeighbors(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantHits []Hit
	}{
		{
			name:     "similarity preferred over distance",
			payload:  `{"neighbors": [{"smiles": "A", "id": "1", "distance": 0.3, "similarity": 0.7}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.7)}},
		},
		{
			name:     "distance used when no similarity exists",
			payload:  `{"neighbors": [{"smiles": "A", "id": "1", "embedding_distance": 0.12}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.12)}},
		},
		{
			name:     "nested score",
			payload:  `{"neighbors": [{"smiles": "A", "zinc_id": "Z1-DMCH", "metrics": {"tanimoto": 0.66}}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "Z1", Similarity: ptr(0.66)}},
		},
		{
			name:     "top level score wins over nested",
			payload:  `{"neighbors": [{"smiles": "A", "id": "1", "score": 0.4, "meta": {"similarity": 0.9}}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.4)}},
		},
		{
			name:     "unparseable score is absent",
			payload:  `{"neighbors": [{"smiles": "A", "id": "1", "similarity": "high", "distance": 0.1}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "1"}},
		},
		{
			name:     "null score falls through to next key",
			payload:  `{"neighbors": [{"smiles": "A", "id": "1", "similarity": null, "sim": 0.5}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.5)}},
		},
		{
			name:     "alternate identifier keys",
			payload:  `{"neighbors": [{"smiles": "A", "name": "N1"}, {"smiles": "B", "identifier": "I2"}]}`,
			wantHits: []Hit{{Molecule: "A", ID: "N1"}, {Molecule: "B", ID: "I2"}},
		},
		{
			name:     "self hit and incomplete neighbors are dropped",
			payload:  `{"neighbors": [{"smiles": "Q", "id": "Query Molecule"}, {"smiles": "", "id": "2"}, {"id": "3"}, "junk", {"smiles": "D", "id": "4"}]}`,
			wantHits: []Hit{{Molecule: "D", ID: "4"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := Normalize([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHits, hits)
		})
	}
}

func TestNormalizeRejectsNonObjects(t *testing.T) {
	for _, payload := range []string{`not json`, `[1,2,3]`, `"job"`} {
		t.Run(payload, func(t *testing.T) {
			_, err := NormalizePage([]byte(payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnexpectedShape))

			var shapeErr *ShapeError
			require.True(t, errors.As(err, &shapeErr))
			assert.Equal(t, payload, string(shapeErr.Raw))
		})
	}
}

func TestNormalizeBatch(t *testing.T) {
	t.Run("aligned list", func(t *testing.T) {
		payload := `[{"smiles": ["A"], "id": ["1"]}, {"neighbors": [{"smiles": "B", "id": "2", "sim": 0.5}]}]`
		got, err := NormalizeBatch([]byte(payload), 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []Hit{{Molecule: "A", ID: "1"}}, got[0])
		assert.Equal(t, []Hit{{Molecule: "B", ID: "2", Similarity: ptr(0.5)}}, got[1])
	})

	t.Run("single payload belongs to first query", func(t *testing.T) {
		payload := `{"smiles": ["A","B"], "id": ["1","2"]}`
		got, err := NormalizeBatch([]byte(payload), 3)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Len(t, got[0], 2)
	})

	t.Run("list of wrong length", func(t *testing.T) {
		got, err := NormalizeBatch([]byte(`[{"smiles": ["A"], "id": ["1"]}]`), 2)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Empty(t, got[0])
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := NormalizeBatch([]byte(`<html>`), 1)
		assert.True(t, errors.Is(err, ErrUnexpectedShape))
	})
}

func TestRowRecord(t *testing.T) {
	q := Query{ID: "q1", Molecule: "CCO"}
	rows := Rows(q, []Hit{{Molecule: "A", ID: "1", Similarity: ptr(0.5)}, {Molecule: "B", ID: "2"}})
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"q1", "CCO", "A", "1", "0.5"}, rows[0].Record())
	assert.Equal(t, []string{"q1", "CCO", "B", "2", ""}, rows[1].Record())
}

func TestCleanID(t *testing.T) {
	assert.Equal(t, "ZINC000123", CleanID("ZINC000123-DMCH"))
	assert.Equal(t, "ZINC000123", CleanID("  ZINC000123-DMCH "))
	assert.Equal(t, "Query Molecule", CleanID("Query Molecule"))
	assert.True(t, IsSelfHit(CleanID(" Query Molecule ")))
}
