package searchpipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
)

// CoTStage implements the optional chain-of-thought stage (§4.4e): when the
// question is classified "complex" it decomposes into sub-questions, runs
// retrieval+rerank again for each (reusing stages a-d), and folds every
// sub-search's chunks back into the running result set. CoT is opt-in only
// — the builder must have selected it explicitly via a technique or preset.
type CoTStage struct {
	Chat      llm.ChatModel
	Retrieval RetrievalStage
	Rerank    RerankStage

	// ComplexityWordThreshold classifies a question as complex once its
	// word count exceeds this, a minimum-viable stand-in for a real
	// classifier model (§9 Open Question: entity/complexity granularity
	// is intentionally minimum viable for this corpus).
	ComplexityWordThreshold int
	MaxSubQuestions         int
}

func (CoTStage) Name() string { return "cot_decomposition" }

func (c CoTStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	query := sc.RewrittenQuery
	if query == "" {
		query = sc.OriginalQuery
	}
	if !c.isComplex(query) {
		return sc, nil
	}

	subQuestions, err := c.decompose(ctx, query)
	if err != nil {
		return sc, apperrors.GenerationError("chain-of-thought decomposition failed", err)
	}

	metrics := &domain.CoTMetrics{Triggered: true, SubQuestionCount: len(subQuestions)}
	sc.Metrics.CoT = metrics

	seen := make(map[string]bool, len(sc.Reranked))
	for _, chunk := range sc.Reranked {
		seen[chunkKey(chunk)] = true
	}

	for _, sub := range subQuestions {
		subCtx := domain.NewSearchContext(sc.OwnerID, sc.CollectionID, sc.SessionID, sub)
		subCtx.RewrittenQuery = sub

		next, err := c.Retrieval.Execute(ctx, subCtx)
		if err != nil {
			sc.MarkDegraded("cot_subsearch_retrieval_failed")
			continue
		}
		next, err = c.Rerank.Execute(ctx, next)
		if err != nil {
			sc.MarkDegraded("cot_subsearch_rerank_failed")
			continue
		}

		sc.ReasoningTrace = append(sc.ReasoningTrace, sub)
		for _, chunk := range next.Reranked {
			key := chunkKey(chunk)
			if seen[key] {
				continue
			}
			seen[key] = true
			sc.Reranked = append(sc.Reranked, chunk)
			metrics.MergedChunkCount++
		}
	}
	return sc, nil
}

func (c CoTStage) isComplex(query string) bool {
	threshold := c.ComplexityWordThreshold
	if threshold <= 0 {
		threshold = 20
	}
	return len(strings.Fields(query)) > threshold || strings.Count(query, "?") > 1
}

func (c CoTStage) decompose(ctx context.Context, query string) ([]string, error) {
	max := c.MaxSubQuestions
	if max <= 0 {
		max = 3
	}
	system := "Break the user's question into at most " + strconv.Itoa(max) +
		" independent sub-questions that together cover it. Reply with one " +
		"sub-question per line and nothing else."
	result, err := c.Chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}, llm.ChatOptions{Temperature: 0, MaxNewTokens: 256})
	if err != nil {
		return nil, err
	}

	var subs []string
	for _, line := range strings.Split(result.Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			subs = append(subs, line)
		}
		if len(subs) >= max {
			break
		}
	}
	return subs, nil
}

func chunkKey(c domain.RetrievedChunk) string {
	return c.DocumentID + "#" + strconv.Itoa(c.ChunkOrdinal)
}

// CoTSynthesisStage folds a decomposed question's sub-answers back into a
// single reasoning note (§6 cot_synthesis). It only runs anything when
// cot_decomposition actually triggered on this request; otherwise there is
// no reasoning trace to synthesize and it's a no-op.
type CoTSynthesisStage struct {
	Chat llm.ChatModel
}

func (CoTSynthesisStage) Name() string { return "cot_synthesis" }

func (s CoTSynthesisStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	if sc.Metrics.CoT == nil || !sc.Metrics.CoT.Triggered || len(sc.ReasoningTrace) == 0 {
		return sc, nil
	}

	system := "The sub-questions below were derived from a single question to research it in " +
		"parts. Write one short sentence summarizing how they relate, for an internal reasoning " +
		"log. Reply with only that sentence."
	result, err := s.Chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: strings.Join(sc.ReasoningTrace, "\n")},
	}, llm.ChatOptions{Temperature: 0, MaxNewTokens: 96})
	if err != nil {
		sc.MarkDegraded("cot_synthesis_failed")
		return sc, nil
	}

	note := strings.TrimSpace(result.Content)
	if note != "" {
		sc.ReasoningTrace = append(sc.ReasoningTrace, note)
	}
	return sc, nil
}
