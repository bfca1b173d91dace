package inmemory

import (
	"math"
	"sort"

	"github.com/letmevibethatforyou/molsearch"
)

// idSuffix mimics the suffix the real service appends to catalogue identifiers.
const idSuffix = "-DMCH"

type rankedMolecule struct {
	molecule Molecule
	score    float64
}

// rank scores every catalogue molecule against smiles, best first. Caller holds s.mu.
func (s *Service) rank(smiles string) []rankedMolecule {
	ranked := make([]rankedMolecule, 0, len(s.molecules))
	for _, m := range s.molecules {
		ranked = append(ranked, rankedMolecule{molecule: m, score: similarity(smiles, m.Smiles)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].molecule.ID < ranked[j].molecule.ID
	})
	return ranked
}

// similarity is the Dice coefficient over character bigrams, rounded to four decimals.
// It only orders the fake catalogue; it carries no chemical meaning.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ga, gb := bigrams(a), bigrams(b)
	total := 0
	for _, n := range ga {
		total += n
	}
	for _, n := range gb {
		total += n
	}
	if total == 0 {
		return 0
	}

	shared := 0
	for g, n := range ga {
		shared += min(n, gb[g])
	}
	return math.Round(2*float64(shared)/float64(total)*1e4) / 1e4
}

func bigrams(s string) map[string]int {
	out := make(map[string]int)
	r := []rune(s)
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])]++
	}
	return out
}

// pagePayload renders one page in the parallel-array shape. The echoed query molecule
// leads the result list, molecules under the similarity threshold are left out, and
// property ranges are reported through in_prop_range.
func pagePayload(j *job, pageNum, pageSize int, filters molsearch.Filters) map[string]any {
	type entry struct {
		smiles  string
		id      string
		score   float64
		inRange bool
	}

	entries := []entry{{smiles: j.query.Molecule, id: molsearch.SelfHitID, score: 1, inRange: true}}
	for _, r := range j.ranking {
		if !filters.AboveThreshold(&r.score) {
			continue
		}
		entries = append(entries, entry{
			smiles:  r.molecule.Smiles,
			id:      r.molecule.ID + idSuffix,
			score:   r.score,
			inRange: filters.InPropRange(r.molecule.Properties),
		})
	}

	start := min(max(pageNum, 0)*pageSize, len(entries))
	end := min(start+pageSize, len(entries))

	smiles := make([]string, 0, end-start)
	ids := make([]string, 0, end-start)
	scores := make([]float64, 0, end-start)
	inRange := make([]bool, 0, end-start)
	for _, e := range entries[start:end] {
		smiles = append(smiles, e.smiles)
		ids = append(ids, e.id)
		scores = append(scores, e.score)
		inRange = append(inRange, e.inRange)
	}

	payload := map[string]any{
		"smiles":     smiles,
		"id":         ids,
		"similarity": scores,
	}
	if len(filters.PropRanges) > 0 {
		payload["in_prop_range"] = inRange
	}
	return payload
}

// neighborsPayload renders a synchronous answer in the neighbors shape, limited to n neighbors.
func neighborsPayload(q molsearch.Query, ranking []rankedMolecule, n int) map[string]any {
	neighbors := []map[string]any{{"smiles": q.Molecule, "id": molsearch.SelfHitID, "similarity": 1.0}}
	for _, r := range ranking[:min(n, len(ranking))] {
		neighbors = append(neighbors, map[string]any{
			"smiles":     r.molecule.Smiles,
			"zinc_id":    r.molecule.ID + idSuffix,
			"similarity": r.score,
		})
	}
	return map[string]any{"neighbors": neighbors}
}
