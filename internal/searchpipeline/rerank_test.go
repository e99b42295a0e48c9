package searchpipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
)

type stubReranker struct {
	results []llm.RankResult
	err     error
}

func (s stubReranker) Rerank(context.Context, string, []string, int) ([]llm.RankResult, error) {
	return s.results, s.err
}
func (s stubReranker) ModelName() string { return "stub-rerank" }

func retrievedFixture() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{
		{DocumentID: "d1", ChunkOrdinal: 0, Text: "alpha", Score: 0.5},
		{DocumentID: "d1", ChunkOrdinal: 1, Text: "beta", Score: 0.4},
	}
}

func TestRerankPassesThroughWithoutAReranker(t *testing.T) {
	stage := RerankStage{}
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Retrieved = retrievedFixture()

	out, err := stage.Execute(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, sc.Retrieved, out.Reranked)
}

func TestRerankDegradesToPassThroughOnProviderFailure(t *testing.T) {
	stage := RerankStage{Reranker: stubReranker{err: errors.New("provider down")}}
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Retrieved = retrievedFixture()

	out, err := stage.Execute(t.Context(), sc)
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, sc.Retrieved, out.Reranked)
}

func TestRerankOrdersByProviderScore(t *testing.T) {
	stage := RerankStage{Reranker: stubReranker{results: []llm.RankResult{
		{Index: 1, Score: 0.9, Document: "beta"},
		{Index: 0, Score: 0.2, Document: "alpha"},
	}}}
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Retrieved = retrievedFixture()

	out, err := stage.Execute(t.Context(), sc)
	require.NoError(t, err)
	require.Len(t, out.Reranked, 2)
	assert.Equal(t, "beta", out.Reranked[0].Text)
	assert.Equal(t, "alpha", out.Reranked[1].Text)
}
