package searchpipeline

import (
	"context"
	"strings"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
)

// EnhancementStage normalizes the query and, if a chat model is configured,
// asks it to expand acronyms and resolve coreferences against tracked
// entities (§4.4b). Failure here is never fatal: the stage always falls
// back to the cleaned original query.
type EnhancementStage struct {
	Chat llm.ChatModel // nil disables LLM rewriting
}

func (EnhancementStage) Name() string { return "enhancement" }

func (e EnhancementStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	cleaned := strings.Join(strings.Fields(sc.OriginalQuery), " ")
	sc.RewrittenQuery = cleaned

	if e.Chat == nil || cleaned == "" {
		return sc, nil
	}

	system := "Rewrite the user's question for a search engine. Expand any acronyms. " +
		"If the question uses a pronoun that refers to one of these entities, replace it " +
		"with the entity name: " + strings.Join(sc.Entities, ", ") +
		". Reply with only the rewritten question, nothing else."
	messages := append([]llm.Message{{Role: "system", Content: system}}, asMessages(sc.History)...)
	messages = append(messages, llm.Message{Role: "user", Content: cleaned})

	result, err := e.Chat.Chat(ctx, messages, llm.ChatOptions{Temperature: 0, MaxNewTokens: 128})
	if err != nil {
		logger.GetLogger(ctx).Warnf("query enhancement rewrite failed, falling back to cleaned query: %v", err)
		sc.MarkDegraded("enhancement_rewrite_failed")
		return sc, nil
	}
	rewritten := strings.TrimSpace(result.Content)
	if rewritten != "" {
		sc.RewrittenQuery = rewritten
	}
	return sc, nil
}

// asMessages adapts the context manager's provider-agnostic history turns
// into the llm package's message shape.
func asMessages(turns []domain.ChatTurn) []llm.Message {
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		out[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return out
}
