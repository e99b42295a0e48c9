package searchpipeline

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
)

// FusionRetrievalStage implements multi-query fusion retrieval (§6): it
// runs the same underlying vector search against several phrasings of the
// question and merges the per-query rankings with reciprocal rank fusion,
// rather than trusting a single embedding of a single phrasing to surface
// every relevant chunk.
type FusionRetrievalStage struct {
	Retrieval RetrievalStage
	Chat      llm.ChatModel // nil disables LLM-generated variants
	// NumVariants is the total number of queries fused, including the
	// original. 0 means 3.
	NumVariants int
	// RRFConstant is the k in 1/(k+rank); 0 means 60, the standard RRF
	// default that dampens the influence of any single query's top hit.
	RRFConstant int
}

func (FusionRetrievalStage) Name() string { return "fusion_retrieval" }

func (f FusionRetrievalStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	base := sc.RewrittenQuery
	if base == "" {
		base = sc.OriginalQuery
	}

	numVariants := f.NumVariants
	if numVariants <= 0 {
		numVariants = 3
	}
	variants := f.queryVariants(ctx, base, numVariants)

	rrfK := f.RRFConstant
	if rrfK <= 0 {
		rrfK = 60
	}

	type scoredChunk struct {
		chunk domain.RetrievedChunk
		score float64
	}
	scores := make(map[string]*scoredChunk)
	successfulQueries := 0

	for _, variant := range variants {
		sub := domain.NewSearchContext(sc.OwnerID, sc.CollectionID, sc.SessionID, sc.OriginalQuery)
		sub.RewrittenQuery = variant
		next, err := f.Retrieval.Execute(ctx, sub)
		if err != nil {
			logger.GetLogger(ctx).Warnf("fusion retrieval variant failed, skipping: %v", err)
			continue
		}
		successfulQueries++
		for rank, chunk := range next.Retrieved {
			key := chunk.DocumentID + "#" + strconv.Itoa(chunk.ChunkOrdinal)
			entry, ok := scores[key]
			if !ok {
				entry = &scoredChunk{chunk: chunk}
				scores[key] = entry
			}
			entry.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	if successfulQueries == 0 {
		sc.MarkDegraded("fusion_retrieval_all_variants_failed")
		return sc, nil
	}

	merged := make([]scoredChunk, 0, len(scores))
	for _, entry := range scores {
		merged = append(merged, *entry)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })

	limit := f.Retrieval.TopK
	if limit <= 0 {
		limit = f.Retrieval.DefaultTopK
	}
	if limit <= 0 {
		limit = 8
	}
	if limit > len(merged) {
		limit = len(merged)
	}

	sc.Retrieved = make([]domain.RetrievedChunk, limit)
	for i := 0; i < limit; i++ {
		chunk := merged[i].chunk
		chunk.Score = float32(merged[i].score)
		sc.Retrieved[i] = chunk
	}
	sc.Metrics.Retrieval = &domain.RetrievalMetrics{ResultsCount: len(sc.Retrieved), Attempts: successfulQueries}
	return sc, nil
}

// queryVariants returns up to n distinct phrasings of base, the first
// always being base itself. Falls back to just [base] when no chat model
// is configured or the model declines to produce alternates.
func (f FusionRetrievalStage) queryVariants(ctx context.Context, base string, n int) []string {
	variants := []string{base}
	if f.Chat == nil || n <= 1 {
		return variants
	}

	system := "Rewrite the user's question as a different but equivalent search query. " +
		"Reply with only the rewritten question, nothing else."
	for len(variants) < n {
		result, err := f.Chat.Chat(ctx, []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: base},
		}, llm.ChatOptions{Temperature: 0.7, MaxNewTokens: 64})
		if err != nil {
			break
		}
		variant := strings.TrimSpace(result.Content)
		if variant == "" || containsFold(variants, variant) {
			break
		}
		variants = append(variants, variant)
	}
	return variants
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
