// Package technique implements the technique registry and pipeline builder
// (§4.5): a stable technique_id maps to an implementation carrying a stage
// classification, resource requirements, a default configuration, and a
// JSON Schema for that configuration. Grounded on the teacher's
// EventType/Pipline preset-to-stage-list map
// (internal/types/chat_manage.go), generalized from a fixed map of
// []EventType into a validated, schema-checked technique list, using
// github.com/google/jsonschema-go/jsonschema (jsonschema.For[T]) for the
// per-technique schema generation the builder validates configs against.
package technique

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	jsonschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
)

// StageName is one of the ordered technique stages from spec §4.5.
type StageName string

const (
	StageQueryTransformation StageName = "query_transformation"
	StageRetrieval           StageName = "retrieval"
	StagePostRetrieval       StageName = "post_retrieval"
	StageReasoning           StageName = "reasoning"
	StageGeneration          StageName = "generation"
	StagePostGeneration      StageName = "post_generation"
)

// stageRank gives StageName its total order for the builder's
// non-decreasing-stage validation rule.
var stageRank = map[StageName]int{
	StageQueryTransformation: 0,
	StageRetrieval:           1,
	StagePostRetrieval:       2,
	StageReasoning:           3,
	StageGeneration:          4,
	StagePostGeneration:      5,
}

// Requirements declares the external resources a technique needs, so the
// builder (or a future capacity planner) can reject a pipeline whose
// dependencies aren't configured.
type Requirements struct {
	NeedsLLM         bool
	NeedsEmbeddings  bool
	NeedsVectorStore bool
}

// Technique is one pluggable unit of pipeline behavior.
type Technique interface {
	ID() string
	Stage() StageName
	Requirements() Requirements
	DefaultConfig() map[string]any
	// Schema returns the JSON Schema describing this technique's
	// configuration shape, used for documentation and pre-execution
	// validation.
	Schema() *jsonschema.Schema
	// Execute runs the technique against sc with config merged over
	// DefaultConfig.
	Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error)
	// ValidateConfig checks config's shape against the technique's
	// declared schema, erroring on any field that does not round-trip
	// through the schema's backing Go type.
	ValidateConfig(config map[string]any) error
}

// Registry is a concurrency-safe technique_id -> Technique lookup.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Technique
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Technique)}
}

func (r *Registry) Register(t Technique) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID()] = t
}

func (r *Registry) Get(id string) (Technique, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

func (r *Registry) List() []Technique {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Technique, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out
}

// schemaFor generates a JSON Schema for T via jsonschema.For[T](nil).
func schemaFor[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic("technique: failed to generate config schema: " + err.Error())
	}
	return schema
}

// validateAgainst re-marshals config and strictly decodes it into a T,
// rejecting any field the schema's backing type doesn't declare. The
// pack does not exercise google/jsonschema-go's own validation entry
// point anywhere, so configuration validation is expressed as a strict
// structural round-trip against the same type the schema was generated
// from, rather than guessing that entry point's signature.
func validateAgainst[T any](config map[string]any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return apperrors.InvalidPipeline("technique config is not serializable: " + err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var target T
	if err := dec.Decode(&target); err != nil {
		return apperrors.InvalidPipeline("technique config does not match its schema: " + err.Error())
	}
	return nil
}
