package searchpipeline

import (
	"context"

	"github.com/ragcore/ragcore/internal/domain"
)

// FilteringStage implements multi-faceted filtering (§6): it drops
// retrieved chunks whose source metadata doesn't match every configured
// facet, letting a caller narrow retrieval to, say, a document type or
// author without re-embedding the query.
type FilteringStage struct {
	// Facets maps a SourceMetadata key to the single value a chunk must
	// carry for that key to survive. A chunk missing the key is dropped.
	Facets map[string]string
}

func (FilteringStage) Name() string { return "multi_faceted_filtering" }

func (f FilteringStage) Execute(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	if len(f.Facets) == 0 {
		return sc, nil
	}

	source := sc.Reranked
	usingReranked := source != nil
	if !usingReranked {
		source = sc.Retrieved
	}
	if len(source) == 0 {
		return sc, nil
	}

	filtered := make([]domain.RetrievedChunk, 0, len(source))
	for _, chunk := range source {
		if f.matches(chunk) {
			filtered = append(filtered, chunk)
		}
	}

	if usingReranked {
		sc.Reranked = filtered
	} else {
		sc.Retrieved = filtered
	}
	return sc, nil
}

func (f FilteringStage) matches(chunk domain.RetrievedChunk) bool {
	for key, want := range f.Facets {
		got, ok := chunk.SourceMetadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}
