package technique

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/searchpipeline"
)

type stubChat struct {
	content string
	err     error
}

func (s stubChat) Chat(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResult, error) {
	return llm.ChatResult{Content: s.content}, s.err
}
func (s stubChat) ModelName() string { return "stub-chat" }

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	technique := NewQueryRewrite(searchpipeline.EnhancementStage{})
	reg.Register(technique)

	got, ok := reg.Get("query_rewriting")
	require.True(t, ok)
	assert.Equal(t, "query_rewriting", got.ID())
}

func TestRegistryGetUnknownReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("nope")
	assert.False(t, ok)
}

func TestQueryRewriteValidateConfigRejectsUnknownField(t *testing.T) {
	technique := NewQueryRewrite(searchpipeline.EnhancementStage{})
	err := technique.ValidateConfig(map[string]any{"not_a_real_field": true})
	assert.Error(t, err)
}

func TestQueryRewriteValidateConfigAcceptsKnownField(t *testing.T) {
	technique := NewQueryRewrite(searchpipeline.EnhancementStage{})
	err := technique.ValidateConfig(map[string]any{"complexity_threshold": 10})
	assert.NoError(t, err)
}

func TestVectorRetrievalDefaultConfigUsesStageDefaultTopK(t *testing.T) {
	stage := searchpipeline.RetrievalStage{DefaultTopK: 8}
	technique := NewVectorRetrieval(stage)
	assert.Equal(t, 8, technique.DefaultConfig()["top_k"])
}

func TestGenerationExecuteUsesChatModel(t *testing.T) {
	stage := searchpipeline.GenerationStage{Chat: stubChat{content: "answer"}}
	technique := NewRAGGeneration(stage)

	sc := domain.NewSearchContext("u1", "c1", "s1", "hello")
	sc.Retrieved = []domain.RetrievedChunk{{DocumentID: "d1", ChunkOrdinal: 0, Text: "context"}}
	out, err := technique.Execute(t.Context(), sc, nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Answer)
}
