package retrieval

import (
	"sort"

	"github.com/temosalmi/wattson/chunks"
	"github.com/temosalmi/wattson/index"
)

// fuseByRank combines semantic and keyword results using rank-normalized
// weighted scores. Each result is assigned 1/(rank+1) within its list,
// which keeps scales comparable across heterogeneous retrievers, then
// fused = alpha*sem_norm + (1-alpha)*key_norm with a missing side
// contributing 0. Ties are broken by insertion order: semantic results
// first, then keyword-only results in keyword order.
func fuseByRank(semantic []index.ScoredChunk, keyword []chunks.Chunk, alpha float64, finalK int) []index.ScoredChunk {
	type fusedEntry struct {
		chunk chunks.Chunk
		score float64
	}

	fused := make(map[string]*fusedEntry)
	var order []string // insertion order of doc ids

	for rank, r := range semantic {
		id := stableDocID(r.Chunk, rank)
		entry, ok := fused[id]
		if !ok {
			entry = &fusedEntry{chunk: r.Chunk}
			fused[id] = entry
			order = append(order, id)
		}
		entry.score += alpha * (1.0 / float64(rank+1))
	}

	for rank, c := range keyword {
		id := stableDocID(c, rank)
		entry, ok := fused[id]
		if !ok {
			entry = &fusedEntry{chunk: c}
			fused[id] = entry
			order = append(order, id)
		}
		entry.score += (1.0 - alpha) * (1.0 / float64(rank+1))
	}

	entries := make([]*fusedEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, fused[id])
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if finalK > 0 && len(entries) > finalK {
		entries = entries[:finalK]
	}

	results := make([]index.ScoredChunk, len(entries))
	for i, e := range entries {
		results[i] = index.ScoredChunk{Chunk: e.chunk, Score: e.score}
	}
	return results
}
