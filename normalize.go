package molsearch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Candidate field names, consulted in order. The service is not consistent about naming.
var (
	moleculeKeys = []string{"smiles", "molecule", "mol"}

	idKeys = []string{"zinc_id", "id", "name", "identifier"}

	// scoreKeys lists similarity-like fields (higher is closer) before distance-like
	// fields, which are only used when no similarity is reported.
	scoreKeys = []string{
		"similarity", "sim", "score",
		"tanimoto", "morgan_tanimoto",
		"shape_similarity", "shape_sim", "shape_tanimoto",
		"espsim", "espsim_shape", "espsim_similarity", "espsim_sim",
		"electrostatic_similarity", "esp_similarity", "esp_sim",
		"cosine_similarity", "cos_sim", "cosine_sim",
		"embedding_distance", "distance", "dist",
		"espsim_distance", "shape_distance", "esp_distance",
	}

	nestedScoreKeys = []string{"metrics", "meta", "metadata"}
)

// Field names of the parallel-array shape.
const (
	neighborsField   = "neighbors"
	smilesField      = "smiles"
	idField          = "id"
	similarityField  = "similarity"
	inPropRangeField = "in_prop_range"
)

// Normalize converts a result payload into hits.
// It accepts an object with a "neighbors" list or an object with parallel arrays.
func Normalize(raw []byte) ([]Hit, error) {
	page, err := NormalizePage(raw)
	if err != nil {
		return nil, err
	}
	return page.Hits, nil
}

// NormalizePage converts a results page payload into a Page.
// The page number is left to the caller.
func NormalizePage(raw []byte) (*Page, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, &ShapeError{Op: "normalize", Raw: raw}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ShapeError{Op: "normalize", Raw: raw}
	}
	return normalizeObject(obj), nil
}

// NormalizeBatch splits a bulk payload into per-query hits.
// A list payload with exactly n elements is aligned with the queries. Any other payload
// is normalized as a whole and belongs to the first query only, so the result may be shorter than n.
func NormalizeBatch(raw []byte, n int) ([][]Hit, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, &ShapeError{Op: "batch_search", Raw: raw}
	}

	if list, ok := v.([]any); ok && len(list) == n {
		out := make([][]Hit, 0, n)
		for _, item := range list {
			obj, _ := item.(map[string]any)
			out = append(out, normalizeObject(obj).Hits)
		}
		return out, nil
	}

	obj, _ := v.(map[string]any)
	return [][]Hit{normalizeObject(obj).Hits}, nil
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalizeObject(obj map[string]any) *Page {
	if obj == nil {
		return &Page{}
	}
	if neighbors, ok := obj[neighborsField].([]any); ok {
		return normalizeNeighbors(neighbors)
	}
	return normalizeArrays(obj)
}

func normalizeNeighbors(neighbors []any) *Page {
	page := &Page{Entries: len(neighbors)}
	for _, item := range neighbors {
		n, ok := item.(map[string]any)
		if !ok {
			continue
		}

		id := CleanID(firstString(n, idKeys))
		if id != "" {
			page.IDs++
		}
		molecule := strings.TrimSpace(firstString(n, moleculeKeys))
		if molecule == "" || id == "" || IsSelfHit(id) {
			continue
		}

		page.Hits = append(page.Hits, Hit{
			Molecule:   molecule,
			ID:         id,
			Similarity: pickScore(n),
		})
	}
	return page
}

func normalizeArrays(obj map[string]any) *Page {
	smiles, _ := obj[smilesField].([]any)
	ids, _ := obj[idField].([]any)

	n := min(len(smiles), len(ids))

	sims, hasSims := obj[similarityField].([]any)
	if hasSims {
		n = min(n, len(sims))
	}
	inRange, hasRange := obj[inPropRangeField].([]any)
	if hasRange {
		n = min(n, len(inRange))
	}

	page := &Page{Entries: n, IDs: len(ids)}
	for i := 0; i < n; i++ {
		if hasRange && !truthy(inRange[i]) {
			continue
		}

		molecule := strings.TrimSpace(stringify(smiles[i]))
		id := CleanID(stringify(ids[i]))
		if molecule == "" || id == "" || IsSelfHit(id) {
			continue
		}

		hit := Hit{Molecule: molecule, ID: id}
		if hasSims {
			hit.Similarity = toFloat(sims[i])
		}
		page.Hits = append(page.Hits, hit)
	}
	return page
}

// pickScore takes the first candidate present at top level, then inside nested objects.
// A candidate that is present but not numeric yields no score rather than falling through.
func pickScore(n map[string]any) *float64 {
	if v, ok := firstPresent(n, scoreKeys); ok {
		return toFloat(v)
	}
	for _, k := range nestedScoreKeys {
		nested, ok := n[k].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := firstPresent(nested, scoreKeys); ok {
			return toFloat(v)
		}
	}
	return nil
}

func firstPresent(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringify(m[k])); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &f
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		return t != ""
	default:
		return false
	}
}
