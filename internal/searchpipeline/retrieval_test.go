package searchpipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

type stubCollections struct{ byID map[string]*domain.Collection }

func (s stubCollections) GetCollection(_ context.Context, id string) (*domain.Collection, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("not found")
	}
	return c, nil
}

type stubResolver struct{ model llm.EmbeddingModel }

func (s stubResolver) Resolve(string) (llm.EmbeddingModel, bool) {
	if s.model == nil {
		return nil, false
	}
	return s.model, true
}

type stubEmbedder struct{ dims int }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, s.dims), nil
}
func (s stubEmbedder) BatchEmbed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (s stubEmbedder) Dimensions() int                                          { return s.dims }
func (s stubEmbedder) ModelName() string                                       { return "stub-embed" }

type stubVectors struct {
	scored []vectorstore.ScoredVector
	err    error
}

func (s stubVectors) EnsureNamespace(context.Context, string, int) error { return nil }
func (s stubVectors) DeleteNamespace(context.Context, string) error      { return nil }
func (s stubVectors) Upsert(context.Context, string, []vectorstore.Vector) error { return nil }
func (s stubVectors) DeleteByDocument(context.Context, string, string) error     { return nil }
func (s stubVectors) Query(context.Context, string, []float32, int) ([]vectorstore.ScoredVector, error) {
	return s.scored, s.err
}

func TestRetrievalReturnsEmptyResultsAsLegitimateOutcome(t *testing.T) {
	collection := &domain.Collection{ID: "c1", Status: domain.CollectionStatusActive, VectorNamespace: "ns-c1"}
	stage := RetrievalStage{
		Vectors:     stubVectors{scored: nil},
		Collections: stubCollections{byID: map[string]*domain.Collection{"c1": collection}},
		Embedders:   stubResolver{model: stubEmbedder{dims: 4}},
		DefaultTopK: 8,
	}
	sc := domain.NewSearchContext("u1", "c1", "s1", "hello")
	sc.RewrittenQuery = "hello"

	out, err := stage.Execute(t.Context(), sc)
	require.NoError(t, err)
	assert.Empty(t, out.Retrieved)
}

func TestRetrievalRejectsUnusableCollection(t *testing.T) {
	collection := &domain.Collection{ID: "c1", Status: domain.CollectionStatusDeleted}
	stage := RetrievalStage{
		Vectors:     stubVectors{},
		Collections: stubCollections{byID: map[string]*domain.Collection{"c1": collection}},
		Embedders:   stubResolver{model: stubEmbedder{dims: 4}},
	}
	sc := domain.NewSearchContext("u1", "c1", "s1", "hello")

	_, err := stage.Execute(t.Context(), sc)
	require.Error(t, err)
}

func TestRetrievalPopulatesRetrievedChunks(t *testing.T) {
	collection := &domain.Collection{ID: "c1", Status: domain.CollectionStatusActive, VectorNamespace: "ns-c1"}
	scored := []vectorstore.ScoredVector{
		{Vector: vectorstore.Vector{DocumentID: "d1", ChunkOrdinal: 0, Text: "alpha"}, Score: 0.9},
	}
	stage := RetrievalStage{
		Vectors:     stubVectors{scored: scored},
		Collections: stubCollections{byID: map[string]*domain.Collection{"c1": collection}},
		Embedders:   stubResolver{model: stubEmbedder{dims: 4}},
		DefaultTopK: 4,
	}
	sc := domain.NewSearchContext("u1", "c1", "s1", "hello")

	out, err := stage.Execute(t.Context(), sc)
	require.NoError(t, err)
	require.Len(t, out.Retrieved, 1)
	assert.Equal(t, "alpha", out.Retrieved[0].Text)
	assert.Equal(t, float32(0.9), out.Retrieved[0].Score)
}
