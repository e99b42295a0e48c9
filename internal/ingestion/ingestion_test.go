package ingestion

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/blobstore"
	"github.com/ragcore/ragcore/internal/chunker"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

func TestPlainTextParserAcceptsTextAndMarkdown(t *testing.T) {
	p := PlainTextParser{}

	text, err := p.Parse(t.Context(), bytes.NewBufferString("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	text, err = p.Parse(t.Context(), bytes.NewBufferString("# hi"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, "# hi", text)
}

func TestPlainTextParserRejectsUnsupportedFormat(t *testing.T) {
	p := PlainTextParser{}
	_, err := p.Parse(t.Context(), bytes.NewBufferString("binary"), "application/pdf")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidInput, appErr.Code)
}

func TestBatchOfSplitsIntoBoundedGroups(t *testing.T) {
	splitter, err := chunker.NewSplitter(8)
	require.NoError(t, err)
	chunks, err := splitter.Split(
		"one two three four five six seven eight nine ten",
		domain.ChunkingPolicy{ChunkSizeTokens: 512, OverlapTokens: 0},
	)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	batches := batchOf(chunks, 1)
	assert.Len(t, batches, 1)
}

func TestWorkerProcessTakesDocumentToIndexed(t *testing.T) {
	store := newFakeStore()
	store.collections["coll-1"] = &domain.Collection{
		ID:              "coll-1",
		VectorNamespace: "ns-coll-1",
		Status:          domain.CollectionStatusActive,
		ChunkingPolicy:  domain.ChunkingPolicy{ChunkSizeTokens: 512, OverlapTokens: 0},
	}
	store.documents["doc-1"] = &domain.Document{
		ID:             "doc-1",
		CollectionID:   "coll-1",
		ContentAddress: "addr-1",
		MimeType:       "text/plain",
		Status:         domain.DocumentStatusPending,
		UploadedAt:     time.Now(),
	}

	blobs := &fakeBlobStore{data: []byte("the quick brown fox jumps over the lazy dog")}
	vectors := &fakeVectorStore{}
	embedder := &fakeEmbedder{dims: 4}

	worker, err := NewWorker(store, blobs, vectors, embedder, nil, Config{SafetyMarginTokens: 8, BatchSize: 32, EmbedConcurrency: 2})
	require.NoError(t, err)
	defer worker.Release()

	err = worker.Process(t.Context(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, domain.DocumentStatusIndexed, store.documents["doc-1"].Status)
	assert.NotEmpty(t, vectors.upserted)
	assert.NotEmpty(t, store.chunks["doc-1"])
}

func TestWorkerProcessFailsOnUnsupportedFormat(t *testing.T) {
	store := newFakeStore()
	store.collections["coll-1"] = &domain.Collection{
		ID:              "coll-1",
		VectorNamespace: "ns-coll-1",
		Status:          domain.CollectionStatusActive,
	}
	store.documents["doc-1"] = &domain.Document{
		ID:             "doc-1",
		CollectionID:   "coll-1",
		ContentAddress: "addr-1",
		MimeType:       "application/pdf",
		Status:         domain.DocumentStatusPending,
	}

	blobs := &fakeBlobStore{data: []byte("%PDF-1.4 ...")}
	worker, err := NewWorker(store, blobs, &fakeVectorStore{}, &fakeEmbedder{dims: 4}, nil, Config{SafetyMarginTokens: 8})
	require.NoError(t, err)
	defer worker.Release()

	err = worker.Process(t.Context(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, store.documents["doc-1"].Status)
	require.NotNil(t, store.documents["doc-1"].ProcessingError)
}

// --- fake metadata store ---

type fakeStore struct {
	collections map[string]*domain.Collection
	documents   map[string]*domain.Document
	chunks      map[string][]*domain.Chunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: map[string]*domain.Collection{},
		documents:   map[string]*domain.Document{},
		chunks:      map[string][]*domain.Chunk{},
	}
}

func (f *fakeStore) GetCollection(_ context.Context, id string) (*domain.Collection, error) {
	c, ok := f.collections[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("collection not found")
	}
	return c, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	d, ok := f.documents[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("document not found")
	}
	return d, nil
}

func (f *fakeStore) TransitionDocument(_ context.Context, id string, next domain.DocumentStatus, processingError *string) error {
	d := f.documents[id]
	if !d.CanTransition(next) {
		return apperrors.NewConflictError("illegal document transition")
	}
	d.Status = next
	d.ProcessingError = processingError
	return nil
}

func (f *fakeStore) ReplaceChunks(_ context.Context, documentID string, chunks []*domain.Chunk) error {
	f.chunks[documentID] = chunks
	return nil
}

// --- fake blob store ---

type fakeBlobStore struct{ data []byte }

func (f *fakeBlobStore) Put(context.Context, string, io.Reader, int64) (blobstore.ObjectInfo, error) {
	return blobstore.ObjectInfo{}, nil
}
func (f *fakeBlobStore) Get(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
func (f *fakeBlobStore) Delete(context.Context, string) error         { return nil }
func (f *fakeBlobStore) Exists(context.Context, string) (bool, error) { return true, nil }

var _ blobstore.Store = (*fakeBlobStore)(nil)

// --- fake vector store ---

type fakeVectorStore struct {
	upserted []vectorstore.Vector
}

func (f *fakeVectorStore) EnsureNamespace(context.Context, string, int) error { return nil }
func (f *fakeVectorStore) DeleteNamespace(context.Context, string) error      { return nil }
func (f *fakeVectorStore) Upsert(_ context.Context, _ string, vectors []vectorstore.Vector) error {
	f.upserted = append(f.upserted, vectors...)
	return nil
}
func (f *fakeVectorStore) DeleteByDocument(context.Context, string, string) error { return nil }
func (f *fakeVectorStore) Query(context.Context, string, []float32, int) ([]vectorstore.ScoredVector, error) {
	return nil, nil
}

var _ vectorstore.Store = (*fakeVectorStore)(nil)

// --- fake embedder ---

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.dims), nil
}
func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int   { return f.dims }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

var _ llm.EmbeddingModel = (*fakeEmbedder)(nil)
