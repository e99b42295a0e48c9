// Package qdrant adapts github.com/qdrant/go-client to vectorstore.Store.
// It is grounded on the teacher's qdrantRepository struct (a client plus a
// sync.Map cache of initialized collections, internal/application/
// repository/retriever/qdrant/structs.go) and the real client call shapes
// (CreateCollection/Upsert/Query/Delete) used elsewhere in the pack.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	qdrantclient "github.com/qdrant/go-client/qdrant"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/vectorstore"
)

// payloadTextKey/payloadOrdinal/payloadDocumentID mirror the teacher's habit of storing the
// chunk's own text in the point payload rather than a side table.
const (
	payloadTextKey    = "__text__"
	payloadOrdinal    = "__ordinal__"
	payloadDocumentID = "__document_id__"
)

func ptrBool(b bool) *bool       { return &b }
func ptrUint64(u uint64) *uint64 { return &u }

// Store adapts a *qdrantclient.Client to vectorstore.Store.
type Store struct {
	client                 *qdrantclient.Client
	initializedCollections sync.Map
}

var _ vectorstore.Store = (*Store)(nil)

// Config dials the Qdrant gRPC endpoint.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func NewStore(cfg Config) (*Store, error) {
	client, err := qdrantclient.NewClient(&qdrantclient.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, apperrors.VectorStoreUnavailable(err)
	}
	return &Store{client: client}, nil
}

func pointID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", documentID, ordinal)
}

func (s *Store) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	if _, ok := s.initializedCollections.Load(namespace); ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return apperrors.NewDependencyUnavailableError("qdrant collection check failed", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrantclient.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrantclient.NewVectorsConfig(&qdrantclient.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrantclient.Distance_Cosine,
			}),
		})
		if err != nil {
			return apperrors.NewDependencyUnavailableError("qdrant collection creation failed", err)
		}
	}
	s.initializedCollections.Store(namespace, true)
	return nil
}

func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := s.client.DeleteCollection(ctx, namespace); err != nil {
		return apperrors.NewDependencyUnavailableError("qdrant collection deletion failed", err)
	}
	s.initializedCollections.Delete(namespace)
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]*qdrantclient.PointStruct, 0, len(vectors))
	for _, v := range vectors {
		payload, err := qdrantclient.TryValueMap(map[string]any{
			payloadTextKey:    v.Text,
			payloadOrdinal:    v.ChunkOrdinal,
			payloadDocumentID: v.DocumentID,
		})
		if err != nil {
			return apperrors.NewInternalServerError("qdrant payload encoding failed: " + err.Error())
		}
		for k, val := range v.Metadata {
			mv, err := qdrantclient.NewValue(val)
			if err != nil {
				return apperrors.NewInternalServerError("qdrant metadata encoding failed: " + err.Error())
			}
			payload[k] = mv
		}
		points = append(points, &qdrantclient.PointStruct{
			Id:      qdrantclient.NewID(pointID(v.DocumentID, v.ChunkOrdinal)),
			Vectors: qdrantclient.NewVectors(v.Embedding...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
		Wait:           ptrBool(true),
	})
	if err != nil {
		return apperrors.NewDependencyUnavailableError("qdrant upsert failed", err)
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	filter := &qdrantclient.Filter{
		Must: []*qdrantclient.Condition{
			qdrantclient.NewMatchKeyword(payloadDocumentID, documentID),
		},
	}
	_, err := s.client.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: namespace,
		Points:         qdrantclient.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return apperrors.NewDependencyUnavailableError("qdrant delete failed", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, namespace string, embedding []float32, topK int) ([]vectorstore.ScoredVector, error) {
	result, err := s.client.Query(ctx, &qdrantclient.QueryPoints{
		CollectionName: namespace,
		Query:          qdrantclient.NewQuery(embedding...),
		Limit:          ptrUint64(uint64(topK)),
		WithPayload:    qdrantclient.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("qdrant query failed", err)
	}

	out := make([]vectorstore.ScoredVector, 0, len(result))
	for _, point := range result {
		text := ""
		documentID := ""
		ordinal := 0
		meta := make(map[string]string)
		for k, v := range point.GetPayload() {
			switch k {
			case payloadTextKey:
				text = v.GetStringValue()
			case payloadDocumentID:
				documentID = v.GetStringValue()
			case payloadOrdinal:
				ordinal = int(v.GetIntegerValue())
			default:
				meta[k] = v.GetStringValue()
			}
		}
		out = append(out, vectorstore.ScoredVector{
			Vector: vectorstore.Vector{
				DocumentID:   documentID,
				ChunkOrdinal: ordinal,
				Text:         text,
				Metadata:     meta,
			},
			Score: point.GetScore(),
		})
	}
	return out, nil
}
