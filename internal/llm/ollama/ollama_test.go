package ollama

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/llm"
)

func TestProviderInfo(t *testing.T) {
	info := Provider{}.Info()
	assert.Equal(t, llm.ProviderOllama, info.Name)
	assert.Contains(t, info.ModelTypes, llm.ModelTypeChat)
	assert.Contains(t, info.ModelTypes, llm.ModelTypeEmbedding)
	assert.False(t, info.RequiresAuth)
}

func TestProviderValidateConfig(t *testing.T) {
	p := Provider{}

	t.Run("valid", func(t *testing.T) {
		err := p.ValidateConfig(&llm.Config{BaseURL: "http://localhost:11434", ModelName: "llama3"})
		assert.NoError(t, err)
	})

	t.Run("missing base url", func(t *testing.T) {
		err := p.ValidateConfig(&llm.Config{ModelName: "llama3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base URL")
	})

	t.Run("missing model name", func(t *testing.T) {
		err := p.ValidateConfig(&llm.Config{BaseURL: "http://localhost:11434"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model name")
	})
}

func TestNewChatRejectsInvalidBaseURL(t *testing.T) {
	_, err := NewChat(llm.Config{BaseURL: "://bad", ModelName: "llama3"})
	require.Error(t, err)
}

func TestNewChatUsesConfiguredModel(t *testing.T) {
	c, err := NewChat(llm.Config{BaseURL: "http://localhost:11434", ModelName: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", c.ModelName())
}

func TestToOllamaMessages(t *testing.T) {
	out := toOllamaMessages([]llm.Message{{Role: "user", Content: "hi"}})
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
}

func TestNewEmbedderDimensions(t *testing.T) {
	e, err := NewEmbedder(llm.Config{BaseURL: "http://localhost:11434", ModelName: "nomic-embed-text"}, 768)
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimensions())
}
