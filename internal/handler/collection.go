package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/collection"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/scheduler"
	"github.com/ragcore/ragcore/internal/utils"
)

// DocumentLister is the subset of postgres.Store the collection handler
// needs to resolve a deleted collection's blob content addresses before
// enqueueing their reclaim.
type DocumentLister interface {
	ListDocuments(ctx context.Context, collectionID string) ([]*domain.Document, error)
}

// CollectionHandler exposes collection lifecycle operations (§4.2).
type CollectionHandler struct {
	collections *collection.Service
	documents   DocumentLister
	scheduler   *scheduler.Scheduler
}

func NewCollectionHandler(collections *collection.Service, documents DocumentLister, sched *scheduler.Scheduler) *CollectionHandler {
	return &CollectionHandler{collections: collections, documents: documents, scheduler: sched}
}

// CreateCollectionRequest is the request body for POST /collections.
type CreateCollectionRequest struct {
	Name            string         `json:"name" binding:"required"`
	ChunkSizeTokens int            `json:"chunk_size_tokens"`
	OverlapTokens   int            `json:"overlap_tokens"`
	EmbeddingModel  string         `json:"embedding_model" binding:"required"`
	Privacy         domain.Privacy `json:"privacy"`
}

// CreateCollection handles POST /collections.
func (h *CollectionHandler) CreateCollection(c *gin.Context) {
	ctx := c.Request.Context()
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(err.Error()))
		return
	}
	if req.Privacy == "" {
		req.Privacy = domain.PrivacyPrivate
	}

	coll, err := h.collections.Create(ctx, collection.CreateParams{
		OwnerID:         ownerID(c),
		Name:            utils.SanitizeForLog(req.Name),
		ChunkSizeTokens: req.ChunkSizeTokens,
		OverlapTokens:   req.OverlapTokens,
		EmbeddingModel:  req.EmbeddingModel,
		Privacy:         req.Privacy,
	})
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, coll)
}

// GetCollection handles GET /collections/:id.
func (h *CollectionHandler) GetCollection(c *gin.Context) {
	coll, err := h.collections.Get(c.Request.Context(), c.Param("id"), ownerID(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, coll)
}

// ListCollections handles GET /collections.
func (h *CollectionHandler) ListCollections(c *gin.Context) {
	colls, err := h.collections.List(c.Request.Context(), ownerID(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, colls)
}

// UpdateCollectionRequest is the request body for PATCH /collections/:id.
type UpdateCollectionRequest struct {
	Name            *string         `json:"name"`
	Privacy         *domain.Privacy `json:"privacy"`
	ChunkSizeTokens *int            `json:"chunk_size_tokens"`
	OverlapTokens   *int            `json:"overlap_tokens"`
}

// UpdateCollection handles PATCH /collections/:id.
func (h *CollectionHandler) UpdateCollection(c *gin.Context) {
	var req UpdateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(err.Error()))
		return
	}
	coll, err := h.collections.Update(c.Request.Context(), c.Param("id"), ownerID(c), collection.UpdatePatch{
		Name:            req.Name,
		Privacy:         req.Privacy,
		ChunkSizeTokens: req.ChunkSizeTokens,
		OverlapTokens:   req.OverlapTokens,
	})
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, coll)
}

// DeleteCollection handles DELETE /collections/:id. The row is soft-deleted
// synchronously; reclaiming its vector namespace and its documents' blobs
// is enqueued as a delete_collection_data job (§4.8) so the request doesn't
// block on storage-backend cleanup.
func (h *CollectionHandler) DeleteCollection(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	coll, err := h.collections.Get(ctx, id, ownerID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.collections.Delete(ctx, id, ownerID(c)); err != nil {
		c.Error(err)
		return
	}

	docs, err := h.documents.ListDocuments(ctx, id)
	if err != nil {
		c.Error(err)
		return
	}
	contentAddrs := make([]string, 0, len(docs))
	for _, d := range docs {
		contentAddrs = append(contentAddrs, d.ContentAddress)
	}
	if _, err := h.scheduler.Enqueue(ctx, scheduler.KindDeleteCollectionData, "delete-collection:"+id,
		scheduler.DeleteCollectionDataPayload{
			CollectionID:    id,
			VectorNamespace: coll.VectorNamespace,
			ContentAddrs:    contentAddrs,
		}, ""); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
