// Package ingestion drives the per-document worker that takes a document
// through pending -> parsing -> chunking -> embedding -> indexed, matching
// the teacher's embedder batch/pool idiom
// (EmbedderPooler.BatchEmbedWithPool in
// internal/models/embedding/embedder.go) generalized from a single
// embedder-pooling concern into the whole ingestion state machine.
package ingestion

import (
	"context"
	"io"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/blobstore"
	"github.com/ragcore/ragcore/internal/chunker"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/telemetry"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

// MetadataStore is the subset of the postgres store the ingestion worker
// depends on.
type MetadataStore interface {
	GetCollection(ctx context.Context, id string) (*domain.Collection, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	TransitionDocument(ctx context.Context, id string, next domain.DocumentStatus, processingError *string) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error
}

// Parser extracts plain text from a blob. Document-format parsing
// (PDF/DOCX/etc.) is treated as an external collaborator; the built-in
// PlainTextParser only handles text/plain and text/markdown, and anything
// else is expected to arrive pre-extracted behind the same interface.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, mimeType string) (string, error)
}

// PlainTextParser handles text and markdown content verbatim.
type PlainTextParser struct{}

func (PlainTextParser) Parse(_ context.Context, r io.Reader, mimeType string) (string, error) {
	switch mimeType {
	case "text/plain", "text/markdown", "text/x-markdown":
		buf, err := io.ReadAll(r)
		if err != nil {
			return "", apperrors.CorruptInput("failed reading document body: " + err.Error())
		}
		return string(buf), nil
	default:
		return "", apperrors.UnsupportedFormat(mimeType)
	}
}

// Worker takes a single document through the full ingestion state machine.
type Worker struct {
	store      MetadataStore
	blobs      blobstore.Store
	vectors    vectorstore.Store
	embedder   llm.EmbeddingModel
	parser     Parser
	splitter   *chunker.Splitter
	embedPool  *ants.Pool
	batchSize  int
}

// Config bundles a Worker's tunables.
type Config struct {
	SafetyMarginTokens int
	BatchSize          int
	EmbedConcurrency   int
}

func NewWorker(store MetadataStore, blobs blobstore.Store, vectors vectorstore.Store, embedder llm.EmbeddingModel, parser Parser, cfg Config) (*Worker, error) {
	if parser == nil {
		parser = PlainTextParser{}
	}
	concurrency := cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, apperrors.NewInternalServerError("embed worker pool creation failed: " + err.Error())
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	splitter, err := chunker.NewSplitter(cfg.SafetyMarginTokens)
	if err != nil {
		return nil, err
	}
	return &Worker{
		store:     store,
		blobs:     blobs,
		vectors:   vectors,
		embedder:  embedder,
		parser:    parser,
		splitter:  splitter,
		embedPool: pool,
		batchSize: batchSize,
	}, nil
}

func (w *Worker) Release() { w.embedPool.Release() }

// Process runs documentID through parsing, chunking, embedding, and commit.
// Any failure transitions the document to failed with the error recorded;
// already-written vectors from a partial batch are left in place for the
// janitor to reclaim rather than rolled back inline (§4.3, §7).
func (w *Worker) Process(ctx context.Context, documentID string) error {
	doc, err := w.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	collection, err := w.store.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return err
	}
	if !collection.IsUsable() {
		return apperrors.CollectionDeleted(collection.ID)
	}

	if err := w.transition(ctx, doc, domain.DocumentStatusParsing); err != nil {
		return err
	}
	text, err := w.parse(ctx, doc)
	if err != nil {
		return w.fail(ctx, doc, err)
	}

	if err := w.transition(ctx, doc, domain.DocumentStatusChunking); err != nil {
		return err
	}
	chunks, err := w.chunk(ctx, text, collection.ChunkingPolicy)
	if err != nil {
		return w.fail(ctx, doc, err)
	}

	if err := w.transition(ctx, doc, domain.DocumentStatusEmbedding); err != nil {
		return err
	}
	vectors, err := w.embedAll(ctx, doc.ID, chunks)
	if err != nil {
		return w.fail(ctx, doc, err)
	}

	if err := w.vectors.EnsureNamespace(ctx, collection.VectorNamespace, w.embedder.Dimensions()); err != nil {
		return w.fail(ctx, doc, err)
	}
	// Vectors are written before metadata so a crash here leaves orphan
	// vectors (cleanable by the janitor) rather than dangling metadata.
	if err := w.vectors.Upsert(ctx, collection.VectorNamespace, vectors); err != nil {
		return w.fail(ctx, doc, err)
	}

	rows := make([]*domain.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = &domain.Chunk{
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       c.Text,
			TokenCount: c.TokenCount,
		}
	}
	if err := w.store.ReplaceChunks(ctx, doc.ID, rows); err != nil {
		return w.fail(ctx, doc, err)
	}

	return w.transition(ctx, doc, domain.DocumentStatusIndexed)
}

func (w *Worker) parse(ctx context.Context, doc *domain.Document) (string, error) {
	ctx, span := telemetry.StartStage(ctx, "ingestion.parse")
	defer span.End(ctx)

	blob, err := w.blobs.Get(ctx, doc.ContentAddress)
	if err != nil {
		span.Fail(ctx, "blob_unavailable", err)
		return "", err
	}
	defer blob.Close()

	text, err := w.parser.Parse(ctx, blob, doc.MimeType)
	if err != nil {
		span.Fail(ctx, "parse_failed", err)
		return "", err
	}
	return text, nil
}

func (w *Worker) chunk(ctx context.Context, text string, policy domain.ChunkingPolicy) ([]chunker.Chunk, error) {
	ctx, span := telemetry.StartStage(ctx, "ingestion.chunk")
	defer span.End(ctx)

	chunks, err := w.splitter.Split(text, policy)
	if err != nil {
		span.Fail(ctx, "chunk_failed", err)
		return nil, err
	}
	return chunks, nil
}

// embedAll batches chunks and embeds each batch concurrently through the
// bounded worker pool. It waits for every batch to finish, then returns the
// error of the first failed batch, if any.
func (w *Worker) embedAll(ctx context.Context, documentID string, chunks []chunker.Chunk) ([]vectorstore.Vector, error) {
	ctx, span := telemetry.StartStage(ctx, "ingestion.embed")
	defer span.End(ctx)

	batches := batchOf(chunks, w.batchSize)
	results := make([][]vectorstore.Vector, len(batches))
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		i, batch := i, batch
		wg.Add(1)
		submitErr := w.embedPool.Submit(func() {
			defer wg.Done()
			vecs, err := w.embedBatch(ctx, documentID, batch, i*w.batchSize)
			results[i] = vecs
			errs[i] = err
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = apperrors.NewInternalServerError("embed pool submit failed: " + submitErr.Error())
		}
	}
	wg.Wait()

	var out []vectorstore.Vector
	for i, err := range errs {
		if err != nil {
			span.Fail(ctx, "embed_failed", err)
			return nil, err
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

func (w *Worker) embedBatch(ctx context.Context, documentID string, batch []chunker.Chunk, ordinalOffset int) ([]vectorstore.Vector, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	embeddings, err := w.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("embedding provider batch failed", err)
	}
	vectors := make([]vectorstore.Vector, len(batch))
	for i, c := range batch {
		vectors[i] = vectorstore.Vector{
			DocumentID:   documentID,
			ChunkOrdinal: ordinalOffset + i,
			Embedding:    embeddings[i],
			Text:         c.Text,
		}
	}
	return vectors, nil
}

func batchOf(chunks []chunker.Chunk, size int) [][]chunker.Chunk {
	var batches [][]chunker.Chunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}

func (w *Worker) transition(ctx context.Context, doc *domain.Document, next domain.DocumentStatus) error {
	if err := w.store.TransitionDocument(ctx, doc.ID, next, nil); err != nil {
		return err
	}
	doc.Status = next
	return nil
}

func (w *Worker) fail(ctx context.Context, doc *domain.Document, cause error) error {
	msg := cause.Error()
	logger.GetLogger(ctx).Errorf("document %s failed during ingestion: %v", doc.ID, cause)
	if err := w.store.TransitionDocument(ctx, doc.ID, domain.DocumentStatusFailed, &msg); err != nil {
		return err
	}
	return cause
}

// Reprocess deletes a document's existing vectors and runs the pipeline
// again with the collection's current policy. It re-enters at parsing, not
// at chunking: the blob is fetched and parsed again before re-chunking.
// With an unchanged policy it rewrites the same (document_id,
// chunk_ordinal) vector keys, since namespace upserts are idempotent on
// that key.
func (w *Worker) Reprocess(ctx context.Context, documentID string) error {
	doc, err := w.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	collection, err := w.store.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return err
	}
	if err := w.vectors.DeleteByDocument(ctx, collection.VectorNamespace, documentID); err != nil {
		return err
	}
	return w.Process(ctx, documentID)
}
