package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ragcore/ragcore/internal/blobstore"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

// IngestionWorker is the subset of *ingestion.Worker the job handlers need.
type IngestionWorker interface {
	Process(ctx context.Context, documentID string) error
	Reprocess(ctx context.Context, documentID string) error
}

// ConversationMaintainer is the subset of *conversation.Service the
// summarize_session and rebuild_entities jobs need.
type ConversationMaintainer interface {
	ForceSummarize(ctx context.Context, sessionID string) error
	RebuildEntities(ctx context.Context, sessionID string) error
}

// IngestDocumentPayload is the ingest_document / reprocess_document job
// body.
type IngestDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// DeleteCollectionDataPayload is the delete_collection_data job body.
type DeleteCollectionDataPayload struct {
	CollectionID    string   `json:"collection_id"`
	VectorNamespace string   `json:"vector_namespace"`
	ContentAddrs    []string `json:"content_addresses"`
}

// SessionJobPayload is shared by summarize_session and rebuild_entities.
type SessionJobPayload struct {
	SessionID string `json:"session_id"`
}

// RegisterHandlers wires every §4.8 job kind onto s. worker drives
// ingest/reprocess, vectors/blobs reclaim a deleted collection's storage,
// and conversations drives off-turn summarization/entity rebuilds.
func RegisterHandlers(s *Scheduler, worker IngestionWorker, vectors vectorstore.Store, blobs blobstore.Store, conversations ConversationMaintainer) {
	s.Register(KindIngestDocument, func(ctx context.Context, payload []byte) error {
		var p IngestDocumentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal ingest_document payload: %w", err)
		}
		logger.Infof(ctx, "scheduler: ingesting document %s", p.DocumentID)
		return worker.Process(ctx, p.DocumentID)
	})

	s.Register(KindReprocessDocument, func(ctx context.Context, payload []byte) error {
		var p IngestDocumentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal reprocess_document payload: %w", err)
		}
		logger.Infof(ctx, "scheduler: reprocessing document %s", p.DocumentID)
		return worker.Reprocess(ctx, p.DocumentID)
	})

	s.Register(KindDeleteCollectionData, func(ctx context.Context, payload []byte) error {
		var p DeleteCollectionDataPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal delete_collection_data payload: %w", err)
		}
		logger.Infof(ctx, "scheduler: reclaiming storage for collection %s", p.CollectionID)
		if err := vectors.DeleteNamespace(ctx, p.VectorNamespace); err != nil {
			return fmt.Errorf("delete vector namespace: %w", err)
		}
		for _, addr := range p.ContentAddrs {
			if err := blobs.Delete(ctx, addr); err != nil {
				logger.Warnf(ctx, "scheduler: blob %s already gone or undeletable: %v", addr, err)
			}
		}
		return nil
	})

	s.Register(KindSummarizeSession, func(ctx context.Context, payload []byte) error {
		var p SessionJobPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal summarize_session payload: %w", err)
		}
		return conversations.ForceSummarize(ctx, p.SessionID)
	})

	s.Register(KindRebuildEntities, func(ctx context.Context, payload []byte) error {
		var p SessionJobPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal rebuild_entities payload: %w", err)
		}
		return conversations.RebuildEntities(ctx, p.SessionID)
	})
}
