package searchpipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
)

type stubStage struct {
	name string
	fn   func(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error)
}

func (s stubStage) Name() string { return s.name }
func (s stubStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	return s.fn(ctx, sc)
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	var order []string
	p := NewPipeline(
		stubStage{name: "a", fn: func(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
			order = append(order, "a")
			return sc, nil
		}},
		stubStage{name: "b", fn: func(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
			order = append(order, "b")
			return sc, nil
		}},
	)

	sc := domain.NewSearchContext("u1", "c1", "s1", "hello")
	out, err := p.Run(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Same(t, sc, out)
}

func TestPipelineStopsAndReturnsErrorOnStageFailure(t *testing.T) {
	ran := false
	p := NewPipeline(
		stubStage{name: "fails", fn: func(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
			return sc, apperrors.NewDependencyUnavailableError("boom", errors.New("down"))
		}},
		stubStage{name: "never", fn: func(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
			ran = true
			return sc, nil
		}},
	)

	_, err := p.Run(t.Context(), domain.NewSearchContext("u1", "c1", "s1", "hello"))
	require.Error(t, err)
	assert.False(t, ran)
}

func TestPipelineHonorsCancellationBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	p := NewPipeline(stubStage{name: "a", fn: func(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
		return sc, nil
	}})

	_, err := p.Run(ctx, domain.NewSearchContext("u1", "c1", "s1", "hello"))
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeCancelled, appErr.Code)
}
