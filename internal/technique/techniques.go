package technique

import (
	"context"

	jsonschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/searchpipeline"
)

// mergeConfig overlays override onto a shallow copy of base.
func mergeConfig(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func asInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func asString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// --- query_rewriting ---

// QueryRewriteConfig is query_rewriting's configuration shape.
type QueryRewriteConfig struct {
	ComplexityThreshold int `json:"complexity_threshold,omitempty"`
}

type queryRewriteTechnique struct {
	stage searchpipeline.EnhancementStage
}

// NewQueryRewrite wraps an already-constructed EnhancementStage as a
// registrable query_transformation technique.
func NewQueryRewrite(stage searchpipeline.EnhancementStage) Technique {
	return queryRewriteTechnique{stage: stage}
}

func (queryRewriteTechnique) ID() string            { return "query_rewriting" }
func (queryRewriteTechnique) Stage() StageName       { return StageQueryTransformation }
func (queryRewriteTechnique) Requirements() Requirements { return Requirements{NeedsLLM: true} }
func (queryRewriteTechnique) DefaultConfig() map[string]any { return map[string]any{} }
func (queryRewriteTechnique) Schema() *jsonschema.Schema { return schemaFor[QueryRewriteConfig]() }
func (queryRewriteTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[QueryRewriteConfig](config)
}
func (t queryRewriteTechnique) Execute(ctx context.Context, sc *domain.SearchContext, _ map[string]any) (*domain.SearchContext, error) {
	return t.stage.Execute(ctx, sc)
}

// --- vector_retrieval ---

// VectorRetrievalConfig is vector_retrieval's configuration shape.
type VectorRetrievalConfig struct {
	TopK int `json:"top_k,omitempty"`
}

type vectorRetrievalTechnique struct {
	stage searchpipeline.RetrievalStage
}

func NewVectorRetrieval(stage searchpipeline.RetrievalStage) Technique {
	return vectorRetrievalTechnique{stage: stage}
}

func (vectorRetrievalTechnique) ID() string      { return "vector_retrieval" }
func (vectorRetrievalTechnique) Stage() StageName { return StageRetrieval }
func (vectorRetrievalTechnique) Requirements() Requirements {
	return Requirements{NeedsEmbeddings: true, NeedsVectorStore: true}
}
func (t vectorRetrievalTechnique) DefaultConfig() map[string]any {
	return map[string]any{"top_k": t.stage.DefaultTopK}
}
func (vectorRetrievalTechnique) Schema() *jsonschema.Schema { return schemaFor[VectorRetrievalConfig]() }
func (vectorRetrievalTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[VectorRetrievalConfig](config)
}
func (t vectorRetrievalTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.TopK = asInt(merged, "top_k", t.stage.DefaultTopK)
	return stage.Execute(ctx, sc)
}

// --- reranking ---

// RerankConfig is reranking's configuration shape.
type RerankConfig struct {
	TopN int `json:"top_n,omitempty"`
}

type rerankTechnique struct {
	stage searchpipeline.RerankStage
}

func NewCrossEncoderRerank(stage searchpipeline.RerankStage) Technique {
	return rerankTechnique{stage: stage}
}

func (rerankTechnique) ID() string                    { return "reranking" }
func (rerankTechnique) Stage() StageName               { return StagePostRetrieval }
func (rerankTechnique) Requirements() Requirements      { return Requirements{NeedsLLM: true} }
func (t rerankTechnique) DefaultConfig() map[string]any { return map[string]any{"top_n": t.stage.TopN} }
func (rerankTechnique) Schema() *jsonschema.Schema      { return schemaFor[RerankConfig]() }
func (rerankTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[RerankConfig](config)
}
func (t rerankTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.TopN = asInt(merged, "top_n", t.stage.TopN)
	return stage.Execute(ctx, sc)
}

// --- cot_decomposition ---

// ChainOfThoughtConfig is cot_decomposition's configuration shape.
type ChainOfThoughtConfig struct {
	MaxSubQuestions         int `json:"max_sub_questions,omitempty"`
	ComplexityWordThreshold int `json:"complexity_word_threshold,omitempty"`
}

type chainOfThoughtTechnique struct {
	stage searchpipeline.CoTStage
}

func NewChainOfThought(stage searchpipeline.CoTStage) Technique {
	return chainOfThoughtTechnique{stage: stage}
}

func (chainOfThoughtTechnique) ID() string            { return "cot_decomposition" }
func (chainOfThoughtTechnique) Stage() StageName       { return StageReasoning }
func (chainOfThoughtTechnique) Requirements() Requirements {
	return Requirements{NeedsLLM: true, NeedsEmbeddings: true, NeedsVectorStore: true}
}
func (t chainOfThoughtTechnique) DefaultConfig() map[string]any {
	return map[string]any{
		"max_sub_questions":         t.stage.MaxSubQuestions,
		"complexity_word_threshold": t.stage.ComplexityWordThreshold,
	}
}
func (chainOfThoughtTechnique) Schema() *jsonschema.Schema { return schemaFor[ChainOfThoughtConfig]() }
func (chainOfThoughtTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[ChainOfThoughtConfig](config)
}
func (t chainOfThoughtTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.MaxSubQuestions = asInt(merged, "max_sub_questions", t.stage.MaxSubQuestions)
	stage.ComplexityWordThreshold = asInt(merged, "complexity_word_threshold", t.stage.ComplexityWordThreshold)
	return stage.Execute(ctx, sc)
}

// --- rag_generation ---

// GenerationConfig is rag_generation's configuration shape.
type GenerationConfig struct {
	MaxRetries int `json:"max_retries,omitempty"`
}

type generationTechnique struct {
	stage searchpipeline.GenerationStage
}

func NewRAGGeneration(stage searchpipeline.GenerationStage) Technique {
	return generationTechnique{stage: stage}
}

func (generationTechnique) ID() string                    { return "rag_generation" }
func (generationTechnique) Stage() StageName               { return StageGeneration }
func (generationTechnique) Requirements() Requirements      { return Requirements{NeedsLLM: true} }
func (t generationTechnique) DefaultConfig() map[string]any {
	return map[string]any{"max_retries": t.stage.MaxRetries}
}
func (generationTechnique) Schema() *jsonschema.Schema { return schemaFor[GenerationConfig]() }
func (generationTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[GenerationConfig](config)
}
func (t generationTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.MaxRetries = asInt(merged, "max_retries", t.stage.MaxRetries)
	return stage.Execute(ctx, sc)
}

// --- source_attribution ---

// AttributionConfig is source_attribution's configuration shape.
type AttributionConfig struct {
	Granularity string  `json:"granularity,omitempty"`
	MinOverlap  float64 `json:"min_overlap,omitempty"`
}

type attributionTechnique struct {
	stage searchpipeline.AttributionStage
}

func NewSourceAttribution(stage searchpipeline.AttributionStage) Technique {
	return attributionTechnique{stage: stage}
}

func (attributionTechnique) ID() string            { return "source_attribution" }
func (attributionTechnique) Stage() StageName       { return StagePostGeneration }
func (attributionTechnique) Requirements() Requirements { return Requirements{} }
func (t attributionTechnique) DefaultConfig() map[string]any {
	return map[string]any{"granularity": t.stage.Granularity, "min_overlap": t.stage.MinOverlap}
}
func (attributionTechnique) Schema() *jsonschema.Schema { return schemaFor[AttributionConfig]() }
func (attributionTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[AttributionConfig](config)
}
func (t attributionTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.Granularity = asString(merged, "granularity", t.stage.Granularity)
	stage.MinOverlap = float32(asFloat(merged, "min_overlap", float64(t.stage.MinOverlap)))
	return stage.Execute(ctx, sc)
}

func asFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// --- hyde ---

// HyDEConfig is hyde's configuration shape. It has no tunables today, but
// carries a schema like every other technique so the builder can validate a
// request that names it with a (currently empty) config object.
type HyDEConfig struct{}

type hydeTechnique struct {
	stage searchpipeline.HyDEStage
}

// NewHyDE wraps an already-constructed HyDEStage as a registrable
// query_transformation technique.
func NewHyDE(stage searchpipeline.HyDEStage) Technique {
	return hydeTechnique{stage: stage}
}

func (hydeTechnique) ID() string                    { return "hyde" }
func (hydeTechnique) Stage() StageName               { return StageQueryTransformation }
func (hydeTechnique) Requirements() Requirements      { return Requirements{NeedsLLM: true} }
func (hydeTechnique) DefaultConfig() map[string]any { return map[string]any{} }
func (hydeTechnique) Schema() *jsonschema.Schema    { return schemaFor[HyDEConfig]() }
func (hydeTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[HyDEConfig](config)
}
func (t hydeTechnique) Execute(ctx context.Context, sc *domain.SearchContext, _ map[string]any) (*domain.SearchContext, error) {
	return t.stage.Execute(ctx, sc)
}

// --- fusion_retrieval ---

// FusionRetrievalConfig is fusion_retrieval's configuration shape.
type FusionRetrievalConfig struct {
	NumVariants int `json:"num_variants,omitempty"`
	TopK        int `json:"top_k,omitempty"`
}

type fusionRetrievalTechnique struct {
	stage searchpipeline.FusionRetrievalStage
}

func NewFusionRetrieval(stage searchpipeline.FusionRetrievalStage) Technique {
	return fusionRetrievalTechnique{stage: stage}
}

func (fusionRetrievalTechnique) ID() string      { return "fusion_retrieval" }
func (fusionRetrievalTechnique) Stage() StageName { return StageRetrieval }
func (fusionRetrievalTechnique) Requirements() Requirements {
	return Requirements{NeedsLLM: true, NeedsEmbeddings: true, NeedsVectorStore: true}
}
func (t fusionRetrievalTechnique) DefaultConfig() map[string]any {
	return map[string]any{"num_variants": t.stage.NumVariants, "top_k": t.stage.Retrieval.TopK}
}
func (fusionRetrievalTechnique) Schema() *jsonschema.Schema { return schemaFor[FusionRetrievalConfig]() }
func (fusionRetrievalTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[FusionRetrievalConfig](config)
}
func (t fusionRetrievalTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.NumVariants = asInt(merged, "num_variants", t.stage.NumVariants)
	stage.Retrieval.TopK = asInt(merged, "top_k", t.stage.Retrieval.TopK)
	return stage.Execute(ctx, sc)
}

// --- contextual_compression ---

// CompressionConfig is contextual_compression's configuration shape.
type CompressionConfig struct {
	MaxSentencesPerChunk int     `json:"max_sentences_per_chunk,omitempty"`
	MinOverlap           float64 `json:"min_overlap,omitempty"`
}

type compressionTechnique struct {
	stage searchpipeline.CompressionStage
}

func NewContextualCompression(stage searchpipeline.CompressionStage) Technique {
	return compressionTechnique{stage: stage}
}

func (compressionTechnique) ID() string            { return "contextual_compression" }
func (compressionTechnique) Stage() StageName       { return StagePostRetrieval }
func (compressionTechnique) Requirements() Requirements { return Requirements{} }
func (t compressionTechnique) DefaultConfig() map[string]any {
	return map[string]any{
		"max_sentences_per_chunk": t.stage.MaxSentencesPerChunk,
		"min_overlap":             float64(t.stage.MinOverlap),
	}
}
func (compressionTechnique) Schema() *jsonschema.Schema { return schemaFor[CompressionConfig]() }
func (compressionTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[CompressionConfig](config)
}
func (t compressionTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	merged := mergeConfig(t.DefaultConfig(), config)
	stage := t.stage
	stage.MaxSentencesPerChunk = asInt(merged, "max_sentences_per_chunk", t.stage.MaxSentencesPerChunk)
	stage.MinOverlap = float32(asFloat(merged, "min_overlap", float64(t.stage.MinOverlap)))
	return stage.Execute(ctx, sc)
}

// --- multi_faceted_filtering ---

// FilteringConfig is multi_faceted_filtering's configuration shape.
type FilteringConfig struct {
	Facets map[string]string `json:"facets,omitempty"`
}

type filteringTechnique struct {
	stage searchpipeline.FilteringStage
}

func NewMultiFacetedFiltering(stage searchpipeline.FilteringStage) Technique {
	return filteringTechnique{stage: stage}
}

func (filteringTechnique) ID() string            { return "multi_faceted_filtering" }
func (filteringTechnique) Stage() StageName       { return StagePostRetrieval }
func (filteringTechnique) Requirements() Requirements { return Requirements{} }
func (t filteringTechnique) DefaultConfig() map[string]any {
	return map[string]any{"facets": t.stage.Facets}
}
func (filteringTechnique) Schema() *jsonschema.Schema { return schemaFor[FilteringConfig]() }
func (filteringTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[FilteringConfig](config)
}
func (t filteringTechnique) Execute(ctx context.Context, sc *domain.SearchContext, config map[string]any) (*domain.SearchContext, error) {
	stage := t.stage
	if facets, ok := config["facets"].(map[string]any); ok {
		merged := make(map[string]string, len(facets))
		for k, v := range facets {
			if s, ok := v.(string); ok {
				merged[k] = s
			}
		}
		stage.Facets = merged
	}
	return stage.Execute(ctx, sc)
}

// --- cot_synthesis ---

// CoTSynthesisConfig is cot_synthesis's configuration shape. It has no
// tunables; it always runs against whatever cot_decomposition left behind.
type CoTSynthesisConfig struct{}

type cotSynthesisTechnique struct {
	stage searchpipeline.CoTSynthesisStage
}

func NewCoTSynthesis(stage searchpipeline.CoTSynthesisStage) Technique {
	return cotSynthesisTechnique{stage: stage}
}

func (cotSynthesisTechnique) ID() string            { return "cot_synthesis" }
func (cotSynthesisTechnique) Stage() StageName       { return StageReasoning }
func (cotSynthesisTechnique) Requirements() Requirements { return Requirements{NeedsLLM: true} }
func (cotSynthesisTechnique) DefaultConfig() map[string]any { return map[string]any{} }
func (cotSynthesisTechnique) Schema() *jsonschema.Schema { return schemaFor[CoTSynthesisConfig]() }
func (cotSynthesisTechnique) ValidateConfig(config map[string]any) error {
	return validateAgainst[CoTSynthesisConfig](config)
}
func (t cotSynthesisTechnique) Execute(ctx context.Context, sc *domain.SearchContext, _ map[string]any) (*domain.SearchContext, error) {
	return t.stage.Execute(ctx, sc)
}
