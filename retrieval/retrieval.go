// Package retrieval implements hybrid semantic + lexical retrieval with
// weighted rank fusion and an optional LLM-as-judge rerank stage.
package retrieval

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/temosalmi/wattson/chunks"
	"github.com/temosalmi/wattson/index"
	"github.com/temosalmi/wattson/llm"
)

// Config is frozen at engine build time.
type Config struct {
	Mode      string // "semantic" or "hybrid"
	SemanticK int
	KeywordK  int
	FinalTopK int
	Alpha     float64 // semantic weight in [0,1]
	Rerank    RerankConfig
}

// RerankConfig controls the LLM-as-judge rerank stage.
type RerankConfig struct {
	Enabled      bool
	TopN         int
	TimeoutMS    int
	PreviewChars int
	BatchSize    int
}

// SemanticSearcher is the dense retrieval contract.
type SemanticSearcher interface {
	KNN(ctx context.Context, query string, k int) ([]index.ScoredChunk, error)
}

// KeywordSearcher is the lexical retrieval contract. A nil searcher
// means the lexical side is unavailable and hybrid mode degrades to
// semantic-only.
type KeywordSearcher interface {
	Keyword(ctx context.Context, query string, k int) ([]chunks.Chunk, error)
}

// Engine executes retrieval. Retrieve never returns an error to callers;
// an empty result is a valid outcome.
type Engine struct {
	cfg        Config
	semantic   SemanticSearcher
	keyword    KeywordSearcher
	judge      llm.Provider
	judgeModel string

	degradeOnce sync.Once
}

// NewEngine wires an Engine. keyword may be nil when no lexical corpus
// is available; judge may be nil, which disables rerank regardless of
// config.
func NewEngine(cfg Config, semantic SemanticSearcher, keyword KeywordSearcher, judge llm.Provider, judgeModel string) *Engine {
	if cfg.SemanticK <= 0 {
		cfg.SemanticK = 6
	}
	if cfg.KeywordK <= 0 {
		cfg.KeywordK = 6
	}
	if cfg.FinalTopK <= 0 {
		cfg.FinalTopK = 3
	}
	return &Engine{
		cfg:        cfg,
		semantic:   semantic,
		keyword:    keyword,
		judge:      judge,
		judgeModel: judgeModel,
	}
}

// Retrieve returns the final ranked context for a question. topKHint
// overrides the configured final top-k when positive.
func (e *Engine) Retrieve(ctx context.Context, question string, topKHint int) []index.ScoredChunk {
	finalK := e.cfg.FinalTopK
	if topKHint > 0 {
		finalK = topKHint
	}

	semantic, err := e.semantic.KNN(ctx, question, e.cfg.SemanticK)
	if err != nil {
		slog.Warn("retrieval: semantic search failed", "error", err)
		semantic = nil
	}

	var results []index.ScoredChunk
	if e.cfg.Mode == "hybrid" {
		keyword := e.keywordResults(ctx, question)
		if keyword == nil {
			// Degraded path keeps semantic order but zeroes scores, the
			// same shape the fused path produces.
			results = zeroScores(semantic)
			if len(results) > finalK {
				results = results[:finalK]
			}
		} else {
			results = fuseByRank(semantic, keyword, e.cfg.Alpha, finalK)
		}
	} else {
		results = semantic
		if len(results) > finalK {
			results = results[:finalK]
		}
	}

	if e.cfg.Rerank.Enabled && e.judge != nil && len(results) > 0 {
		topN := e.cfg.Rerank.TopN
		if topN <= 0 || topN > len(results) {
			topN = len(results)
		}
		ranked := e.rerank(ctx, question, results[:topN])
		if len(ranked) > finalK {
			ranked = ranked[:finalK]
		}
		results = ranked
	}

	return results
}

// keywordResults runs lexical retrieval, returning nil when the lexical
// side is unavailable or failing. The degrade notice is logged once.
func (e *Engine) keywordResults(ctx context.Context, question string) []chunks.Chunk {
	if e.keyword == nil {
		e.degradeOnce.Do(func() {
			slog.Warn("retrieval: mode=hybrid but lexical index unavailable, using semantic only")
		})
		return nil
	}
	out, err := e.keyword.Keyword(ctx, question, e.cfg.KeywordK)
	if err != nil {
		slog.Warn("retrieval: keyword search failed", "error", err)
		return nil
	}
	if out == nil {
		out = []chunks.Chunk{}
	}
	return out
}

// stableDocID derives the identifier used for fusion and rerank across
// retrievers.
func stableDocID(c chunks.Chunk, fallbackIndex int) string {
	if c.ID != "" {
		return c.ID
	}
	if c.DocID != "" {
		return c.DocID
	}
	return "idx_" + strconv.Itoa(fallbackIndex)
}

func zeroScores(in []index.ScoredChunk) []index.ScoredChunk {
	out := make([]index.ScoredChunk, len(in))
	for i, r := range in {
		out[i] = index.ScoredChunk{Chunk: r.Chunk}
	}
	return out
}
