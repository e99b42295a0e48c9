package searchpipeline

import (
	"context"
	"time"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

// CollectionLookup resolves a collection's vector namespace and chunking
// policy for the retrieval stage, without pulling in the whole collection
// service.
type CollectionLookup interface {
	GetCollection(ctx context.Context, id string) (*domain.Collection, error)
}

// EmbeddingResolver maps an embedding-model handle to a usable model,
// mirroring internal/collection's resolver shape.
type EmbeddingResolver interface {
	Resolve(modelID string) (llm.EmbeddingModel, bool)
}

// RetrievalStage embeds the rewritten query and performs a k-NN search in
// the collection's namespace (§4.4c). An empty result set is a legitimate,
// non-error outcome; downstream generation is responsible for producing an
// "insufficient context" answer instead of fabricating one.
type RetrievalStage struct {
	Vectors     vectorstore.Store
	Collections CollectionLookup
	Embedders   EmbeddingResolver
	DefaultTopK int
	TopK        int // 0 means DefaultTopK
	MaxRetries  int // 0 means 3, mirrors GenerationStage's retry idiom
}

func (RetrievalStage) Name() string { return "retrieval" }

func (r RetrievalStage) Execute(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	collection, err := r.Collections.GetCollection(ctx, sc.CollectionID)
	if err != nil {
		return sc, err
	}
	if !collection.IsUsable() {
		return sc, apperrors.CollectionDeleted(collection.ID)
	}

	embedder, ok := r.Embedders.Resolve(collection.ChunkingPolicy.EmbeddingModelID)
	if !ok {
		return sc, apperrors.UnknownEmbeddingModel(collection.ChunkingPolicy.EmbeddingModelID)
	}

	query := sc.RewrittenQuery
	if query == "" {
		query = sc.OriginalQuery
	}
	embedding, err := embedder.Embed(ctx, query)
	if err != nil {
		return sc, apperrors.NewDependencyUnavailableError("query embedding failed", err)
	}

	k := r.TopK
	if k <= 0 {
		k = r.DefaultTopK
	}
	if k <= 0 {
		k = 8
	}

	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var scored []vectorstore.ScoredVector
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			logger.GetLogger(ctx).Infof("vector retrieval retrying (%d/%d) after %v: %v", attempt, maxRetries, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return sc, ctxError(ctx, "retrieval", "during backoff")
			}
		}
		scored, err = r.Vectors.Query(ctx, collection.VectorNamespace, embedding, k)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
	}
	if lastErr != nil {
		return sc, apperrors.NewDependencyUnavailableError("vector retrieval failed", lastErr)
	}

	sc.Retrieved = make([]domain.RetrievedChunk, len(scored))
	for i, v := range scored {
		sc.Retrieved[i] = domain.RetrievedChunk{
			DocumentID:     v.DocumentID,
			ChunkOrdinal:   v.ChunkOrdinal,
			Score:          v.Score,
			Text:           v.Text,
			SourceMetadata: v.Metadata,
		}
	}
	sc.Metrics.Retrieval = &domain.RetrievalMetrics{
		ResultsCount: len(sc.Retrieved),
		Attempts:     attempts,
	}
	return sc, nil
}
