// Package vectorstore defines the collection-namespaced nearest-neighbor
// search backend. Upserts and deletes are idempotent on
// (document_id, chunk_ordinal), matching the vector-store shared-resource
// policy in §5.
package vectorstore

import "context"

// Vector is a chunk's embedding plus the identifying key and payload
// needed to reconstruct a RetrievedChunk without a metadata-store join.
type Vector struct {
	DocumentID   string
	ChunkOrdinal int
	Embedding    []float32
	Text         string
	Metadata     map[string]string
}

// ScoredVector is a Vector annotated with its similarity score to a query.
type ScoredVector struct {
	Vector
	Score float32
}

// Store is the vector-namespace backend used by ingestion (upsert/delete)
// and the search pipeline's retrieval stage (query).
type Store interface {
	// EnsureNamespace creates the given namespace (sized for dimension) if
	// it does not already exist. Namespace names are stable per-collection
	// and never reused (§3).
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error

	// DeleteNamespace removes an entire namespace. The
	// delete_collection_data job calls it for a deleted collection (§4.8),
	// and collection creation calls it to undo a namespace whose collection
	// row could not be written.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Upsert writes or overwrites vectors keyed by (document_id, ordinal).
	Upsert(ctx context.Context, namespace string, vectors []Vector) error

	// DeleteByDocument removes every vector belonging to a document,
	// used by reprocessing. Document deletion does not call it.
	DeleteByDocument(ctx context.Context, namespace, documentID string) error

	// Query performs a k-nearest-neighbor search against namespace.
	Query(ctx context.Context, namespace string, embedding []float32, topK int) ([]ScoredVector, error)
}
