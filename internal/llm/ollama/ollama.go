// Package ollama adapts github.com/ollama/ollama's api.Client to the llm
// package's ChatModel and EmbeddingModel interfaces, grounded on the
// teacher's OllamaChat (internal/models/chat/ollama.go) request-building
// idiom. Tool-calling is dropped: no agent/tool-use surface is in scope,
// so only the plain chat and embedding paths are ported.
package ollama

import (
	"context"
	"fmt"
	"net/url"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/llm"
)

func init() {
	llm.Register(&Provider{})
}

// Provider advertises local Ollama chat and embedding capability.
type Provider struct{}

func (Provider) Info() llm.ProviderInfo {
	return llm.ProviderInfo{
		Name:        llm.ProviderOllama,
		DisplayName: "Ollama",
		Description: "locally hosted chat and embedding models served by Ollama",
		DefaultURLs: map[llm.ModelType]string{
			llm.ModelTypeChat:      "http://localhost:11434",
			llm.ModelTypeEmbedding: "http://localhost:11434",
		},
		ModelTypes:   []llm.ModelType{llm.ModelTypeChat, llm.ModelTypeEmbedding},
		RequiresAuth: false,
	}
}

func (Provider) ValidateConfig(cfg *llm.Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("base URL is required for the ollama provider")
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

func newClient(baseURL string) (*ollamaapi.Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperrors.NewBadRequestError("invalid ollama base URL: " + err.Error())
	}
	return ollamaapi.NewClient(u, nil), nil
}

// Chat drives a non-streaming chat completion against a local model,
// pulling the model first if it is not yet resident.
type Chat struct {
	client    *ollamaapi.Client
	modelName string
}

func NewChat(cfg llm.Config) (*Chat, error) {
	client, err := newClient(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Chat{client: client, modelName: cfg.ModelName}, nil
}

func (c *Chat) ModelName() string { return c.modelName }

func (c *Chat) ensureModelAvailable(ctx context.Context) error {
	_, err := c.client.Show(ctx, &ollamaapi.ShowRequest{Name: c.modelName})
	if err == nil {
		return nil
	}
	pullErr := c.client.Pull(ctx, &ollamaapi.PullRequest{Name: c.modelName}, func(ollamaapi.ProgressResponse) error {
		return nil
	})
	if pullErr != nil {
		return apperrors.NewDependencyUnavailableError("ollama model unavailable: "+c.modelName, pullErr)
	}
	return nil
}

func (c *Chat) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResult, error) {
	if err := c.ensureModelAvailable(ctx); err != nil {
		return llm.ChatResult{}, err
	}

	stream := false
	req := &ollamaapi.ChatRequest{
		Model:    c.modelName,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options:  map[string]interface{}{},
	}
	if opts.Temperature > 0 {
		req.Options["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		req.Options["top_p"] = opts.TopP
	}
	if opts.TopK > 0 {
		req.Options["top_k"] = opts.TopK
	}
	if opts.MaxNewTokens > 0 {
		req.Options["num_predict"] = opts.MaxNewTokens
	}

	var content string
	var promptTokens, evalTokens int
	err := c.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
		content = resp.Message.Content
		if resp.EvalCount > 0 {
			promptTokens = resp.PromptEvalCount
			evalTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return llm.ChatResult{}, apperrors.GenerationError("ollama chat request failed", err)
	}

	return llm.ChatResult{
		Content: content,
		Usage: llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: evalTokens,
			TotalTokens:      promptTokens + evalTokens,
		},
	}, nil
}

func toOllamaMessages(messages []llm.Message) []ollamaapi.Message {
	out := make([]ollamaapi.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, ollamaapi.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Embedder drives Ollama's embedding endpoint.
type Embedder struct {
	client     *ollamaapi.Client
	modelName  string
	dimensions int
}

func NewEmbedder(cfg llm.Config, dimensions int) (*Embedder, error) {
	client, err := newClient(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, modelName: cfg.ModelName, dimensions: dimensions}, nil
}

func (e *Embedder) ModelName() string { return e.modelName }
func (e *Embedder) Dimensions() int   { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		resp, err := e.client.Embeddings(ctx, &ollamaapi.EmbeddingRequest{Model: e.modelName, Prompt: text})
		if err != nil {
			return nil, apperrors.NewDependencyUnavailableError(
				fmt.Sprintf("ollama embedding request failed for text %d", i), err)
		}
		floats := make([]float32, len(resp.Embedding))
		for j, f := range resp.Embedding {
			floats[j] = float32(f)
		}
		out[i] = floats
	}
	return out, nil
}
