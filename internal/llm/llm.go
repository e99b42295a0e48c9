// Package llm defines the generation, embedding, and reranking capability
// interfaces the search pipeline depends on, generalizing the teacher's
// models/{chat,embedding,rerank} package split into a single capability
// surface with provider-agnostic adapters underneath.
package llm

import "context"

// Message is one turn in a chat completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatOptions snapshots the per-request generation parameters (§3
// LLMParameters, frozen at request entry per the §5 configuration-snapshot
// policy).
type ChatOptions struct {
	Temperature  float32
	MaxNewTokens int
	TopP         float32
	TopK         int
}

// Usage reports token accounting for a single generation call (§4.4f).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is the outcome of a non-streaming chat completion.
type ChatResult struct {
	Content string
	Usage   Usage
}

// ChatModel performs text generation against a configured backend.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error)
	ModelName() string
}

// EmbeddingModel converts text into dense vectors for retrieval.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// RankResult is one reranked document with its relevance score.
type RankResult struct {
	Index    int
	Score    float32
	Document string
}

// Reranker reorders a candidate document set by relevance to a query,
// feeding the search pipeline's optional reranking stage (§4.4d).
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankResult, error)
	ModelName() string
}
