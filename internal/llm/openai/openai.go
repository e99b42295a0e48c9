// Package openai adapts github.com/sashabaranov/go-openai to the llm
// package's ChatModel, EmbeddingModel, and Reranker interfaces, grounded on
// the teacher's embedder.go remote-provider routing and its
// rerank/jina_reranker.go raw-HTTP idiom (go-openai has no rerank
// endpoint, so Rerank posts directly the way the teacher does for Jina).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/llm"
)

func init() {
	llm.Register(&Provider{})
}

// Provider advertises OpenAI-compatible chat, embedding, and rerank
// capability and validates configuration before an adapter is built.
type Provider struct{}

func (Provider) Info() llm.ProviderInfo {
	return llm.ProviderInfo{
		Name:        llm.ProviderOpenAI,
		DisplayName: "OpenAI-compatible",
		Description: "OpenAI and OpenAI-compatible chat, embedding, and rerank endpoints",
		DefaultURLs: map[llm.ModelType]string{
			llm.ModelTypeChat:      "https://api.openai.com/v1",
			llm.ModelTypeEmbedding: "https://api.openai.com/v1",
			llm.ModelTypeRerank:    "https://api.openai.com/v1",
		},
		ModelTypes:   []llm.ModelType{llm.ModelTypeChat, llm.ModelTypeEmbedding, llm.ModelTypeRerank},
		RequiresAuth: true,
	}
}

func (Provider) ValidateConfig(cfg *llm.Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required for the openai provider")
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// Chat wraps an OpenAI-compatible chat-completions endpoint.
type Chat struct {
	client    *goopenai.Client
	modelName string
}

func NewChat(cfg llm.Config) (*Chat, error) {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Chat{client: goopenai.NewClientWithConfig(clientCfg), modelName: cfg.ModelName}, nil
}

func (c *Chat) ModelName() string { return c.modelName }

func (c *Chat) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResult, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       c.modelName,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxNewTokens,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.ChatResult{}, apperrors.GenerationError("openai chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResult{}, apperrors.GenerationError("openai returned no choices", nil)
	}
	return llm.ChatResult{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toOpenAIMessages(messages []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Embedder wraps an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	client     *goopenai.Client
	modelName  string
	dimensions int
}

func NewEmbedder(cfg llm.Config, dimensions int) (*Embedder, error) {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Embedder{
		client:     goopenai.NewClientWithConfig(clientCfg),
		modelName:  cfg.ModelName,
		dimensions: dimensions,
	}, nil
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
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: texts,
		Model: goopenai.EmbeddingModel(e.modelName),
	})
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("openai embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewInternalServerError("openai returned a mismatched embedding count")
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Reranker posts directly to an OpenAI-compatible rerank endpoint. No
// dedicated Go SDK covers rerank, so this mirrors the teacher's
// JinaReranker: a bare net/http client against a documented JSON contract.
type Reranker struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelName  string
}

func NewReranker(cfg llm.Config) *Reranker {
	return &Reranker{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		modelName:  cfg.ModelName,
	}
}

func (r *Reranker) ModelName() string { return r.modelName }

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]llm.RankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Model: r.modelName, Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, apperrors.NewInternalServerError("rerank request encoding failed: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalServerError("rerank request construction failed: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("rerank endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewDependencyUnavailableError(
			fmt.Sprintf("rerank endpoint returned status %d", resp.StatusCode), nil)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewInternalServerError("rerank response decoding failed: " + err.Error())
	}

	out := make([]llm.RankResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			continue
		}
		out = append(out, llm.RankResult{Index: res.Index, Score: res.RelevanceScore, Document: documents[res.Index]})
	}
	return out, nil
}
