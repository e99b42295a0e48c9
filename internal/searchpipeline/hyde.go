package searchpipeline

import (
	"context"
	"strings"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
)

// HyDEStage implements Hypothetical Document Embeddings (§6): instead of
// embedding the user's literal question, it asks the chat model to write a
// short hypothetical passage that would answer it, and retrieval embeds
// that passage instead. The hypothetical text tends to sit closer in
// embedding space to the real supporting chunks than a short question
// does. Like EnhancementStage, a provider failure falls back to the
// original query rather than failing the request.
type HyDEStage struct {
	Chat llm.ChatModel
}

func (HyDEStage) Name() string { return "hyde" }

func (h HyDEStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	if h.Chat == nil {
		return sc, nil
	}
	query := sc.RewrittenQuery
	if query == "" {
		query = sc.OriginalQuery
	}
	if query == "" {
		return sc, nil
	}

	system := "Write a short, plausible passage (2-4 sentences) that would appear in a " +
		"document answering the following question. Do not mention the question itself; " +
		"write only the hypothetical passage."
	result, err := h.Chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}, llm.ChatOptions{Temperature: 0.3, MaxNewTokens: 256})
	if err != nil {
		logger.GetLogger(ctx).Warnf("hyde generation failed, retrieving on the literal query: %v", err)
		sc.MarkDegraded("hyde_generation_failed")
		return sc, nil
	}

	hypothetical := strings.TrimSpace(result.Content)
	if hypothetical != "" {
		sc.RewrittenQuery = hypothetical
	}
	return sc, nil
}
