package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/blobstore"
	"github.com/ragcore/ragcore/internal/collection"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/scheduler"
)

type fakeDocumentStore struct {
	byID map[string]*domain.Document
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{byID: map[string]*domain.Document{}}
}

func (f *fakeDocumentStore) CreateDocument(_ context.Context, d *domain.Document) error {
	f.byID[d.ID] = d
	return nil
}
func (f *fakeDocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("document not found")
	}
	return d, nil
}
func (f *fakeDocumentStore) ListDocuments(_ context.Context, collectionID string) ([]*domain.Document, error) {
	var out []*domain.Document
	for _, d := range f.byID {
		if d.CollectionID == collectionID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDocumentStore) DeleteDocument(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

type fakeBlobStore struct {
	objects  map[string][]byte
	deleted  []string
	putErr   error
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{objects: map[string][]byte{}} }

func (f *fakeBlobStore) Put(_ context.Context, _ string, r io.Reader, _ int64) (blobstore.ObjectInfo, error) {
	if f.putErr != nil {
		return blobstore.ObjectInfo{}, f.putErr
	}
	data, _ := io.ReadAll(r)
	addr := "addr-" + strconv.Itoa(len(f.objects))
	f.objects[addr] = data
	return blobstore.ObjectInfo{ContentAddress: addr, SizeBytes: int64(len(data)), MimeType: "text/plain"}, nil
}
func (f *fakeBlobStore) Get(_ context.Context, contentAddress string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.objects[contentAddress])), nil
}
func (f *fakeBlobStore) Delete(_ context.Context, contentAddress string) error {
	f.deleted = append(f.deleted, contentAddress)
	delete(f.objects, contentAddress)
	return nil
}
func (f *fakeBlobStore) Exists(_ context.Context, contentAddress string) (bool, error) {
	_, ok := f.objects[contentAddress]
	return ok, nil
}

func newTestDocumentHandler(t *testing.T) (*DocumentHandler, *fakeCollectionStore, *fakeDocumentStore, *fakeBlobStore) {
	t.Helper()
	collStore := newFakeCollectionStore()
	resolver := &fakeResolver{models: map[string]llm.EmbeddingModel{"text-embedding-3-small": &fakeEmbeddingModel{name: "text-embedding-3-small"}}}
	collSvc := collection.NewService(collStore, newFakeVectorStore(), resolver)
	docs := newFakeDocumentStore()
	blobs := newFakeBlobStore()
	sched := scheduler.New(testRedisOpt(), alwaysReservedIdempotency{}, scheduler.Config{})
	return NewDocumentHandler(collSvc, docs, blobs, sched), collStore, docs, blobs
}

func multipartBody(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestUploadDocumentRejectsWhenCollectionNotUsable(t *testing.T) {
	h, collStore, _, _ := newTestDocumentHandler(t)
	collStore.byID["c1"] = &domain.Collection{ID: "c1", OwnerID: "owner-1", Status: domain.CollectionStatusDeleted}

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello"))
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodPost, "/collections/c1/documents", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(ownerContextKey, "owner-1")
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.UploadDocument(c)

	require.Len(t, c.Errors, 1)
	appErr, ok := apperrors.As(c.Errors.Last().Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeConflict, appErr.Code)
}

func TestUploadDocumentStoresBlobAndEnqueuesIngestion(t *testing.T) {
	h, collStore, docs, blobs := newTestDocumentHandler(t)
	collStore.byID["c1"] = &domain.Collection{ID: "c1", OwnerID: "owner-1", Status: domain.CollectionStatusActive}

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello world"))
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodPost, "/collections/c1/documents", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(ownerContextKey, "owner-1")
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.UploadDocument(c)

	require.Empty(t, c.Errors)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, docs.byID, 1)
	for _, d := range docs.byID {
		assert.Equal(t, "c1", d.CollectionID)
		assert.Equal(t, domain.DocumentStatusPending, d.Status)
		assert.Contains(t, blobs.objects, d.ContentAddress)
	}
}

func TestDeleteDocumentRemovesRowAndBlob(t *testing.T) {
	h, collStore, docs, blobs := newTestDocumentHandler(t)
	collStore.byID["c1"] = &domain.Collection{ID: "c1", OwnerID: "owner-1", Status: domain.CollectionStatusActive}
	docs.byID["d1"] = &domain.Document{ID: "d1", CollectionID: "c1", ContentAddress: "addr-0"}
	blobs.objects["addr-0"] = []byte("hello")

	rec := httptest.NewRecorder()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodDelete, "/documents/d1", nil)
	c.Set(ownerContextKey, "owner-1")
	c.Params = gin.Params{{Key: "id", Value: "d1"}}

	h.DeleteDocument(c)

	require.Empty(t, c.Errors)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, docs.byID, "d1")
	assert.Contains(t, blobs.deleted, "addr-0")
}

func TestGetDocumentRejectsNonOwnerOfPrivateCollection(t *testing.T) {
	h, collStore, docs, _ := newTestDocumentHandler(t)
	collStore.byID["c1"] = &domain.Collection{ID: "c1", OwnerID: "owner-1", Privacy: domain.PrivacyPrivate, Status: domain.CollectionStatusActive}
	docs.byID["d1"] = &domain.Document{ID: "d1", CollectionID: "c1"}

	rec := httptest.NewRecorder()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/documents/d1", nil)
	c.Set(ownerContextKey, "someone-else")
	c.Params = gin.Params{{Key: "id", Value: "d1"}}

	h.GetDocument(c)

	require.Len(t, c.Errors, 1)
	appErr, ok := apperrors.As(c.Errors.Last().Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeForbidden, appErr.Code)
}
