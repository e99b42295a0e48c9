// Package searchpipeline implements the staged search state machine (§4.4):
// pipeline resolution, query enhancement, retrieval, optional reranking,
// optional chain-of-thought, generation, and source attribution. It
// generalizes the teacher's chain-of-responsibility plugin idiom
// (chat_pipline.PluginIntoChatMessage.OnEvent, EventManager.Register) into
// an ordered Stage list run by a single Pipeline orchestrator, dropping the
// teacher's recursive next()-callback shape in favor of a plain sequential
// loop since techniques here never need to short-circuit earlier stages.
package searchpipeline

import (
	"context"
	"errors"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/telemetry"
)

// Stage is one step of the search pipeline. Implementations must not
// mutate sc in place when returning an error; callers rely on the last
// successfully-returned context on failure.
type Stage interface {
	Name() string
	Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error)
}

// Pipeline runs an ordered Stage list, threading the SearchContext through
// each, recording telemetry, and honoring cancellation between stages.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline from a resolved stage list (§4.5's builder
// is responsible for ordering and validating this list before it reaches
// here).
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run executes every stage in order. A cancelled context between stages
// returns CodeCancelled immediately with whatever context was produced so
// far; no partial answer is treated as final.
func (p *Pipeline) Run(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return sc, ctxError(ctx, "search pipeline", "before stage "+stage.Name())
		}

		stageCtx, span := telemetry.StartStage(ctx, stage.Name())
		next, err := stage.Execute(stageCtx, sc)
		if err != nil {
			span.Fail(stageCtx, "stage_failed", err)
			logger.GetLogger(ctx).Errorf("search pipeline stage %s failed: %v", stage.Name(), err)
			return sc, err
		}
		span.End(stageCtx)
		sc = next
	}
	return sc, nil
}

// ctxError maps an expired context to the status code §5/§8 require: a
// deadline that elapsed is deadline_exceeded, anything else (caller
// disconnect, explicit cancel) is cancelled.
func ctxError(ctx context.Context, component, detail string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewDeadlineExceededError(component + " deadline exceeded " + detail)
	}
	return apperrors.NewCancelledError(component + " cancelled " + detail)
}
