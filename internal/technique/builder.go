package technique

import (
	"context"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/searchpipeline"
)

// Entry names one technique and its request-level configuration overrides.
type Entry struct {
	TechniqueID string
	Config      map[string]any
}

// BuildOptions controls the builder's retrieval-presence rule.
type BuildOptions struct {
	// RetrievalFree permits a pipeline with no retrieval-stage technique,
	// for the plain-chat and chat-with-history pipeline shapes (§4.5).
	RetrievalFree bool
}

// boundStage adapts a resolved Technique + config pair to the
// searchpipeline.Stage interface so the builder's output can be handed
// straight to searchpipeline.NewPipeline.
type boundStage struct {
	technique Technique
	config    map[string]any
}

func boundStageOf(t Technique, config map[string]any) boundStage {
	return boundStage{technique: t, config: config}
}

func (b boundStage) Name() string { return b.technique.ID() }

func (b boundStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	return b.technique.Execute(ctx, sc, b.config)
}

// Build validates entries and returns the ordered searchpipeline stages
// they resolve to (§4.5 builder validation rules):
//   - stage order must be non-decreasing along the sequence
//   - at least one retrieval technique must be present unless the
//     pipeline is explicitly declared retrieval-free
//   - each technique's configuration is validated against its schema
func Build(entries []Entry, reg *Registry, opts BuildOptions) ([]searchpipeline.Stage, error) {
	stages := make([]searchpipeline.Stage, 0, len(entries))
	lastRank := -1
	hasRetrieval := false

	for _, entry := range entries {
		t, ok := reg.Get(entry.TechniqueID)
		if !ok {
			return nil, apperrors.InvalidPipeline("unknown technique: " + entry.TechniqueID)
		}

		rank := stageRank[t.Stage()]
		if rank < lastRank {
			return nil, apperrors.InvalidPipeline("technique " + entry.TechniqueID + " is out of stage order")
		}
		lastRank = rank
		if t.Stage() == StageRetrieval {
			hasRetrieval = true
		}

		if err := t.ValidateConfig(entry.Config); err != nil {
			return nil, err
		}

		stages = append(stages, boundStageOf(t, entry.Config))
	}

	if !hasRetrieval && !opts.RetrievalFree {
		return nil, apperrors.InvalidPipeline("pipeline has no retrieval technique and is not declared retrieval-free")
	}
	return stages, nil
}
