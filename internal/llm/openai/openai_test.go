package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/llm"
)

func TestProviderInfo(t *testing.T) {
	info := Provider{}.Info()
	assert.Equal(t, llm.ProviderOpenAI, info.Name)
	assert.Contains(t, info.ModelTypes, llm.ModelTypeChat)
	assert.Contains(t, info.ModelTypes, llm.ModelTypeEmbedding)
	assert.Contains(t, info.ModelTypes, llm.ModelTypeRerank)
	assert.True(t, info.RequiresAuth)
}

func TestProviderValidateConfig(t *testing.T) {
	p := Provider{}

	t.Run("valid", func(t *testing.T) {
		err := p.ValidateConfig(&llm.Config{APIKey: "sk-test", ModelName: "gpt-4"})
		assert.NoError(t, err)
	})

	t.Run("missing api key", func(t *testing.T) {
		err := p.ValidateConfig(&llm.Config{ModelName: "gpt-4"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("missing model name", func(t *testing.T) {
		err := p.ValidateConfig(&llm.Config{APIKey: "sk-test"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model name")
	})
}

func TestToOpenAIMessages(t *testing.T) {
	messages := []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}
	out := toOpenAIMessages(messages)
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "hi", out[1].Content)
}

func TestNewChatUsesConfiguredModel(t *testing.T) {
	c, err := NewChat(llm.Config{APIKey: "sk-test", ModelName: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.ModelName())
}

func TestNewEmbedderDimensions(t *testing.T) {
	e, err := NewEmbedder(llm.Config{APIKey: "sk-test", ModelName: "text-embedding-3-small"}, 1536)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimensions())
	assert.Equal(t, "text-embedding-3-small", e.ModelName())
}

func TestRerankerSkipsEmptyDocuments(t *testing.T) {
	r := NewReranker(llm.Config{BaseURL: "http://example.invalid", ModelName: "rerank-1"})
	results, err := r.Rerank(t.Context(), "query", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
