package searchpipeline

import (
	"context"
	"sort"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
)

// RerankStage passes the retrieved chunks through a cross-encoder-style
// reranker (§4.4d). On provider failure it degrades to a pass-through of
// the retrieval order rather than failing the request.
type RerankStage struct {
	Reranker llm.Reranker // nil disables reranking
	TopN     int
}

func (RerankStage) Name() string { return "rerank" }

func (r RerankStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	if r.Reranker == nil || len(sc.Retrieved) == 0 {
		sc.Reranked = sc.Retrieved
		return sc, nil
	}

	query := sc.RewrittenQuery
	if query == "" {
		query = sc.OriginalQuery
	}
	documents := make([]string, len(sc.Retrieved))
	for i, c := range sc.Retrieved {
		documents[i] = c.Text
	}

	topN := r.TopN
	if topN <= 0 || topN > len(sc.Retrieved) {
		topN = len(sc.Retrieved)
	}

	ranked, err := r.Reranker.Rerank(ctx, query, documents, topN)
	if err != nil {
		logger.GetLogger(ctx).Warnf("rerank provider failed, passing through retrieval order: %v", err)
		sc.MarkDegraded("rerank_unavailable")
		sc.Reranked = passThroughTopN(sc.Retrieved, topN)
		sc.Metrics.Rerank = &domain.RerankMetrics{ResultsCount: len(sc.Reranked), Degraded: true}
		return sc, nil
	}

	// Tie-break on the original retrieval score, then chunk ordinal, when
	// the reranker reports equal relevance for two candidates.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		a, b := sc.Retrieved[ranked[i].Index], sc.Retrieved[ranked[j].Index]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ChunkOrdinal < b.ChunkOrdinal
	})

	reranked := make([]domain.RetrievedChunk, 0, len(ranked))
	for _, rr := range ranked {
		if rr.Index < 0 || rr.Index >= len(sc.Retrieved) {
			continue
		}
		chunk := sc.Retrieved[rr.Index]
		chunk.Score = rr.Score
		reranked = append(reranked, chunk)
	}
	sc.Reranked = reranked
	sc.Metrics.Rerank = &domain.RerankMetrics{ResultsCount: len(sc.Reranked)}
	return sc, nil
}

func passThroughTopN(chunks []domain.RetrievedChunk, n int) []domain.RetrievedChunk {
	if n >= len(chunks) {
		return chunks
	}
	return chunks[:n]
}
