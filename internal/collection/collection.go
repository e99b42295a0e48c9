// Package collection implements the collection lifecycle service (§4.2):
// create, get, list, update, and two-phase delete. Grounded on the
// teacher's knowledge-base CRUD handlers (internal/handler/model.go) for
// the create-then-compensate idiom around an external resource (there, a
// vector collection; here, the same pattern against vectorstore.Store).
package collection

import (
	"context"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/idgen"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

// MetadataStore is the subset of the postgres store the collection
// service depends on.
type MetadataStore interface {
	CreateCollection(ctx context.Context, c *domain.Collection) error
	GetCollection(ctx context.Context, id string) (*domain.Collection, error)
	ListVisibleCollections(ctx context.Context, ownerID string) ([]*domain.Collection, error)
	UpdateCollection(ctx context.Context, c *domain.Collection) error
	SoftDeleteCollection(ctx context.Context, id string) error
}

// EmbeddingModelResolver validates that an embedding model handle is known
// before a collection commits to it.
type EmbeddingModelResolver interface {
	Resolve(modelID string) (llm.EmbeddingModel, bool)
}

// Service implements collection CRUD plus the create/delete compensating
// actions against the vector store.
type Service struct {
	store    MetadataStore
	vectors  vectorstore.Store
	resolver EmbeddingModelResolver
}

func NewService(store MetadataStore, vectors vectorstore.Store, resolver EmbeddingModelResolver) *Service {
	return &Service{store: store, vectors: vectors, resolver: resolver}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	OwnerID         string
	Name            string
	ChunkSizeTokens int
	OverlapTokens   int
	EmbeddingModel  string
	Privacy         domain.Privacy
}

// Create allocates a Collection row and an empty vector namespace for it.
// The namespace is created before the row is written; if namespace
// creation fails the row is never written, and if the row write fails the
// namespace is deleted again (best effort) so no unreferenced namespace
// is left behind.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Collection, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, apperrors.NewBadRequestError("collection name is required")
	}

	model, ok := s.resolver.Resolve(p.EmbeddingModel)
	if !ok {
		return nil, apperrors.UnknownEmbeddingModel(p.EmbeddingModel)
	}

	id := idgen.New()
	namespace := "coll-" + id

	if err := s.vectors.EnsureNamespace(ctx, namespace, model.Dimensions()); err != nil {
		return nil, apperrors.VectorStoreUnavailable(err)
	}

	now := time.Now()
	c := &domain.Collection{
		ID:              id,
		OwnerID:         p.OwnerID,
		Name:            name,
		Privacy:         p.Privacy,
		VectorNamespace: namespace,
		ChunkingPolicy: domain.ChunkingPolicy{
			ChunkSizeTokens:  p.ChunkSizeTokens,
			OverlapTokens:    p.OverlapTokens,
			EmbeddingModelID: p.EmbeddingModel,
		},
		Status:    domain.CollectionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateCollection(ctx, c); err != nil {
		// Compensate: drop the namespace we just created so a failed
		// collection row never leaves a live, unreferenced namespace.
		_ = s.vectors.DeleteNamespace(ctx, namespace)
		return nil, err
	}
	return c, nil
}

// Get returns a collection visible to requesterID (owner or public).
func (s *Service) Get(ctx context.Context, id, requesterID string) (*domain.Collection, error) {
	c, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Privacy == domain.PrivacyPrivate && c.OwnerID != requesterID {
		return nil, apperrors.NewForbiddenError("collection is private")
	}
	return c, nil
}

// List returns every collection requesterID may see: their own plus
// anything public.
func (s *Service) List(ctx context.Context, requesterID string) ([]*domain.Collection, error) {
	return s.store.ListVisibleCollections(ctx, requesterID)
}

// UpdatePatch is the set of mutable collection fields.
type UpdatePatch struct {
	Name            *string
	Privacy         *domain.Privacy
	ChunkSizeTokens *int
	OverlapTokens   *int
}

// Update applies patch to a collection. Changing the chunking policy
// marks the collection degraded (needs_reprocess) without itself
// reprocessing any document; documents stay indexed until the caller
// explicitly requests a reprocess (§4.2).
func (s *Service) Update(ctx context.Context, id, requesterID string, patch UpdatePatch) (*domain.Collection, error) {
	c, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != requesterID {
		return nil, apperrors.NewForbiddenError("only the owner may update this collection")
	}

	policyChanged := false
	if patch.Name != nil {
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Privacy != nil {
		c.Privacy = *patch.Privacy
	}
	if patch.ChunkSizeTokens != nil && *patch.ChunkSizeTokens != c.ChunkingPolicy.ChunkSizeTokens {
		c.ChunkingPolicy.ChunkSizeTokens = *patch.ChunkSizeTokens
		policyChanged = true
	}
	if patch.OverlapTokens != nil && *patch.OverlapTokens != c.ChunkingPolicy.OverlapTokens {
		c.ChunkingPolicy.OverlapTokens = *patch.OverlapTokens
		policyChanged = true
	}
	if policyChanged {
		c.Status = domain.CollectionStatusDegraded
	}
	c.UpdatedAt = time.Now()

	if err := s.store.UpdateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete marks a collection deleted. The vector namespace and blobs are
// reclaimed asynchronously by the scheduler's delete_collection_data job
// (§4.8); the metadata row itself is retained in tombstone form so
// sessions that reference the collection can still resolve it.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	c, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return err
	}
	if c.OwnerID != requesterID {
		return apperrors.NewForbiddenError("only the owner may delete this collection")
	}
	return s.store.SoftDeleteCollection(ctx, id)
}
