package searchpipeline

import (
	"context"
	"time"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/prompt"
)

// insufficientContextAnswer is returned when retrieval found nothing to
// ground an answer in, rather than letting the model fabricate one (§4.4c).
const insufficientContextAnswer = "I don't have enough information in this collection to answer that."

// GenerationStage builds the RAG_QUERY prompt from the top chunks and
// conversation history, then calls the chat model with the user's frozen
// parameter snapshot. Provider failures retry a small bounded number of
// times with exponential backoff (grounded on the teacher's
// JinaEmbedder.doRequestWithRetry idiom); a final failure is fatal.
type GenerationStage struct {
	Chat       llm.ChatModel
	MaxRetries int
}

func (GenerationStage) Name() string { return "generation" }

func (g GenerationStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	chunks := sc.Reranked
	if chunks == nil {
		chunks = sc.Retrieved
	}
	if len(chunks) == 0 {
		sc.Answer = insufficientContextAnswer
		return sc, nil
	}

	query := sc.RewrittenQuery
	if query == "" {
		query = sc.OriginalQuery
	}
	messages := prompt.BuildRAGMessages(sc.PromptSnapshot, query, chunks, asMessages(sc.History), sc.Entities)

	opts := llm.ChatOptions{
		Temperature:  sc.LLMSnapshot.Temperature,
		MaxNewTokens: sc.LLMSnapshot.MaxNewTokens,
		TopP:         sc.LLMSnapshot.TopP,
		TopK:         sc.LLMSnapshot.TopK,
	}

	maxRetries := g.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			logger.GetLogger(ctx).Infof("generation retrying (%d/%d) after %v: %v", attempt, maxRetries, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return sc, ctxError(ctx, "generation", "during backoff")
			}
		}

		result, err := g.Chat.Chat(ctx, messages, opts)
		if err == nil {
			sc.Answer = result.Content
			sc.Metrics.Generation = &domain.GenerationMetrics{
				TokensUsed: result.Usage.TotalTokens,
				Attempts:   attempt + 1,
			}
			return sc, nil
		}
		lastErr = err
	}
	return sc, apperrors.GenerationError("chat completion failed after retries", lastErr)
}
