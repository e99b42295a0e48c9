package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/blobstore"
	"github.com/ragcore/ragcore/internal/collection"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/idgen"
	"github.com/ragcore/ragcore/internal/scheduler"
)

// DocumentStore is the subset of the postgres store the document handler
// needs directly, beyond what collection.Service already wraps.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d *domain.Document) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, collectionID string) ([]*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// DocumentHandler exposes document upload, listing, and removal (§4.3).
type DocumentHandler struct {
	collections *collection.Service
	documents   DocumentStore
	blobs       blobstore.Store
	scheduler   *scheduler.Scheduler
}

func NewDocumentHandler(collections *collection.Service, documents DocumentStore, blobs blobstore.Store, sched *scheduler.Scheduler) *DocumentHandler {
	return &DocumentHandler{collections: collections, documents: documents, blobs: blobs, scheduler: sched}
}

// UploadDocument handles POST /collections/:id/documents. The body is a
// multipart form whose "file" field carries the document; its filename and
// MIME type come from that part's header. The
// blob is written synchronously (so the handler can report a storage
// failure to the caller), then ingestion runs asynchronously via the
// ingest_document job.
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	ctx := c.Request.Context()
	collectionID := c.Param("id")

	coll, err := h.collections.Get(ctx, collectionID, ownerID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if !coll.IsUsable() {
		c.Error(apperrors.CollectionDeleted(coll.ID))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.Error(apperrors.NewBadRequestError("file field is required: " + err.Error()))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.Error(apperrors.NewBadRequestError("could not open uploaded file: " + err.Error()))
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	info, err := h.blobs.Put(ctx, mimeType, file, fileHeader.Size)
	if err != nil {
		c.Error(err)
		return
	}

	doc := &domain.Document{
		ID:             idgen.New(),
		CollectionID:   collectionID,
		Filename:       fileHeader.Filename,
		ContentAddress: info.ContentAddress,
		MimeType:       info.MimeType,
		SizeBytes:      info.SizeBytes,
		Status:         domain.DocumentStatusPending,
		UploadedAt:     time.Now(),
	}
	if err := h.documents.CreateDocument(ctx, doc); err != nil {
		c.Error(err)
		return
	}

	if _, err := h.scheduler.Enqueue(ctx, scheduler.KindIngestDocument, "ingest:"+doc.ID,
		scheduler.IngestDocumentPayload{DocumentID: doc.ID}, ""); err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusAccepted, doc)
}

// GetDocument handles GET /documents/:id.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := h.documents.GetDocument(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if _, err := h.collections.Get(ctx, doc.CollectionID, ownerID(c)); err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, doc)
}

// ListDocuments handles GET /collections/:id/documents.
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	collectionID := c.Param("id")
	if _, err := h.collections.Get(ctx, collectionID, ownerID(c)); err != nil {
		c.Error(err)
		return
	}
	docs, err := h.documents.ListDocuments(ctx, collectionID)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, docs)
}

// ReprocessDocument handles POST /documents/:id/reprocess, used after a
// collection's chunking policy changes (§4.2) or to recover a failed
// document without a fresh upload.
func (h *DocumentHandler) ReprocessDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := h.documents.GetDocument(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if _, err := h.collections.Get(ctx, doc.CollectionID, ownerID(c)); err != nil {
		c.Error(err)
		return
	}
	if _, err := h.scheduler.Enqueue(ctx, scheduler.KindReprocessDocument, "reprocess:"+doc.ID+":"+time.Now().Format(time.RFC3339),
		scheduler.IngestDocumentPayload{DocumentID: doc.ID}, ""); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

// DeleteDocument handles DELETE /documents/:id. The row and its blob are
// removed synchronously; the document's vectors are left for the owning
// collection's next delete_collection_data sweep or a dedicated reclaim
// pass, matching the "vectors reclaimed out of band" policy applied
// elsewhere in ingestion.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := h.documents.GetDocument(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if _, err := h.collections.Get(ctx, doc.CollectionID, ownerID(c)); err != nil {
		c.Error(err)
		return
	}
	if err := h.documents.DeleteDocument(ctx, doc.ID); err != nil {
		c.Error(err)
		return
	}
	if err := h.blobs.Delete(ctx, doc.ContentAddress); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
