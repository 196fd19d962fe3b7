package keyword

import (
	"math"
	"sort"

	"github.com/vekku/brain/internal/domain"
)

// Pool returns the indices of the poolSize highest docSims, best first.
// Equal similarities keep their input order.
func Pool(docSims []float64, poolSize int) []int {
	idx := make([]int, len(docSims))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return docSims[idx[a]] > docSims[idx[b]] })
	if poolSize > 0 && len(idx) > poolSize {
		idx = idx[:poolSize]
	}
	return idx
}

// MMR greedily picks up to topK entries of pool by maximal marginal relevance:
//
//	(1-diversity)*docSim - diversity*max(0, max sim to already picked)
//
// The first strictly greatest score wins, so ties go to the earlier pool entry.
// It returns indices into docSims and vecs in selection order.
func MMR(pool []int, docSims []float64, vecs [][]float32, topK int, diversity float64) []int {
	remaining := append([]int(nil), pool...)
	selected := make([]int, 0, min(topK, len(remaining)))

	for len(selected) < topK && len(remaining) > 0 {
		best, bestScore := -1, math.Inf(-1)
		for j, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := domain.CosineSimilarity(vecs[c], vecs[s]); sim > maxSim {
					maxSim = sim
				}
			}
			if score := (1-diversity)*docSims[c] - diversity*maxSim; score > bestScore {
				best, bestScore = j, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return selected
}
