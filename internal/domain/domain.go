// Package domain defines the core entities of the retrieval-augmented
// generation service: collections, documents, chunks, conversation
// sessions/messages/summaries, per-user generation defaults, and the
// transient per-request search context. Field shapes follow the teacher's
// gorm-tagged entity conventions (see internal/types/chat_manage.go and the
// repository layer) generalized to this domain.
package domain

import (
	"strconv"
	"time"
)

// CollectionStatus tracks a collection's lifecycle (§3).
type CollectionStatus string

const (
	CollectionStatusActive     CollectionStatus = "active"
	CollectionStatusProcessing CollectionStatus = "processing"
	CollectionStatusDegraded   CollectionStatus = "degraded"
	CollectionStatusDeleted    CollectionStatus = "deleted"
)

// Privacy controls collection visibility.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// ChunkingPolicy is a collection's token-budget chunking configuration.
type ChunkingPolicy struct {
	ChunkSizeTokens  int    `json:"chunk_size_tokens" gorm:"column:chunk_size_tokens"`
	OverlapTokens    int    `json:"overlap_tokens" gorm:"column:overlap_tokens"`
	EmbeddingModelID string `json:"embedding_model_id" gorm:"column:embedding_model_id"`
}

// Collection is the top-level container of documents and their vectors.
// The VectorNamespace is derived once at creation and never reused, even
// across a delete/recreate of a collection with the same name (§3).
type Collection struct {
	ID              string           `json:"id" gorm:"column:id;primaryKey"`
	OwnerID         string           `json:"owner_id" gorm:"column:owner_id;index"`
	Name            string           `json:"name" gorm:"column:name"`
	Privacy         Privacy          `json:"privacy" gorm:"column:privacy"`
	VectorNamespace string           `json:"vector_namespace" gorm:"column:vector_namespace"`
	ChunkingPolicy  ChunkingPolicy   `json:"chunking_policy" gorm:"embedded;embeddedPrefix:chunking_"`
	Status          CollectionStatus `json:"status" gorm:"column:status"`
	DocumentCount   int              `json:"document_count" gorm:"column:document_count"`
	TotalSizeBytes  int64            `json:"total_size_bytes" gorm:"column:total_size_bytes"`
	LastIndexedAt   *time.Time       `json:"last_indexed_at" gorm:"column:last_indexed_at"`
	CreatedAt       time.Time        `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time        `json:"updated_at" gorm:"column:updated_at"`
}

// IsUsable reports whether the collection accepts new ingestion/search work.
func (c *Collection) IsUsable() bool {
	return c.Status != CollectionStatusDeleted
}

// DocumentStatus tracks ingestion lifecycle (§4.3). Transitions are
// monotone except indexed -> parsing, taken only via an explicit reprocess.
type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusParsing   DocumentStatus = "parsing"
	DocumentStatusChunking  DocumentStatus = "chunking"
	DocumentStatusEmbedding DocumentStatus = "embedding"
	DocumentStatusIndexed   DocumentStatus = "indexed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// Document is a source file owned by exactly one Collection.
type Document struct {
	ID              string         `json:"id" gorm:"column:id;primaryKey"`
	CollectionID    string         `json:"collection_id" gorm:"column:collection_id;index"`
	Filename        string         `json:"filename" gorm:"column:filename"`
	ContentAddress  string         `json:"content_address" gorm:"column:content_address"`
	MimeType        string         `json:"mime_type" gorm:"column:mime_type"`
	SizeBytes       int64          `json:"size_bytes" gorm:"column:size_bytes"`
	Status          DocumentStatus `json:"status" gorm:"column:status"`
	ProcessingError *string        `json:"processing_error" gorm:"column:processing_error"`
	ChunkCount      int            `json:"chunk_count" gorm:"column:chunk_count"`
	PageCount       int            `json:"page_count" gorm:"column:page_count"`
	UploadedAt      time.Time      `json:"uploaded_at" gorm:"column:uploaded_at"`
	ProcessedAt     *time.Time     `json:"processed_at" gorm:"column:processed_at"`
}

// terminalDocumentTransitions lists every legal transition from each
// status: the forward pending->...->indexed chain, failure from any
// in-progress status, and the two edges back into parsing (reprocess from
// indexed, retry from failed).
var terminalDocumentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusPending:   {DocumentStatusParsing, DocumentStatusFailed},
	DocumentStatusParsing:   {DocumentStatusChunking, DocumentStatusFailed},
	DocumentStatusChunking:  {DocumentStatusEmbedding, DocumentStatusFailed},
	DocumentStatusEmbedding: {DocumentStatusIndexed, DocumentStatusFailed},
	DocumentStatusIndexed:   {DocumentStatusParsing}, // reprocess only
	DocumentStatusFailed:    {DocumentStatusParsing}, // retry only
}

// CanTransition reports whether moving from the document's current status to
// next is a legal state transition under the ingestion state machine.
func (d *Document) CanTransition(next DocumentStatus) bool {
	for _, allowed := range terminalDocumentTransitions[d.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ChunkMetadata holds extraction metadata attached to a chunk.
type ChunkMetadata struct {
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
}

// Chunk exists as a metadata row; its text body is mirrored into the vector
// store. DocumentID+Ordinal is the stable key used for vector upsert/delete.
type Chunk struct {
	DocumentID string        `json:"document_id" gorm:"column:document_id;primaryKey"`
	Ordinal    int           `json:"ordinal" gorm:"column:ordinal;primaryKey"`
	Text       string        `json:"text" gorm:"column:text"`
	Page       int           `json:"page" gorm:"column:page"`
	TokenCount int           `json:"token_count" gorm:"column:token_count"`
	Metadata   ChunkMetadata `json:"metadata" gorm:"embedded;embeddedPrefix:meta_"`
}

// VectorKey is the stable key used to address a chunk's embedding.
func (c *Chunk) VectorKey() string {
	return c.DocumentID + ":" + strconv.Itoa(c.Ordinal)
}

// SessionStatus tracks a conversation session's lifecycle (§3).
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
	SessionStatusExpired  SessionStatus = "expired"
	SessionStatusDeleted  SessionStatus = "deleted"
)

// SessionConfig governs a session's context-window and retention behavior.
type SessionConfig struct {
	ContextWindowTokens int           `json:"context_window_tokens" gorm:"column:context_window_tokens"`
	MaxMessages         int           `json:"max_messages" gorm:"column:max_messages"`
	RetentionPolicy     string        `json:"retention_policy" gorm:"column:retention_policy"`
	IdleExpiry          time.Duration `json:"idle_expiry" gorm:"column:idle_expiry"`
}

// ConversationSession groups an ordered sequence of messages bound (weakly)
// to a collection. A session survives collection deletion but becomes
// read-only with a tombstone marker (§3).
type ConversationSession struct {
	ID             string        `json:"id" gorm:"column:id;primaryKey"`
	OwnerID        string        `json:"owner_id" gorm:"column:owner_id;index"`
	CollectionID   string        `json:"collection_id" gorm:"column:collection_id;index"`
	CollectionGone bool          `json:"collection_gone" gorm:"column:collection_gone"`
	DisplayName    string        `json:"display_name" gorm:"column:display_name"`
	Status         SessionStatus `json:"status" gorm:"column:status"`
	Config         SessionConfig `json:"config" gorm:"embedded;embeddedPrefix:config_"`
	MessageCount   int           `json:"message_count" gorm:"column:message_count"`
	TokensUsed     int           `json:"tokens_used" gorm:"column:tokens_used"`
	CreatedAt      time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"column:updated_at"`
	LastActiveAt   time.Time     `json:"last_active_at" gorm:"column:last_active_at"`
}

// IsWritable reports whether new messages may be appended to the session.
func (s *ConversationSession) IsWritable() bool {
	return s.Status == SessionStatusActive && !s.CollectionGone
}

// MessageRole identifies the speaker of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageType distinguishes the conversational purpose of a message.
type MessageType string

const (
	MessageTypeQuestion      MessageType = "question"
	MessageTypeAnswer        MessageType = "answer"
	MessageTypeFollowUp      MessageType = "follow_up"
	MessageTypeClarification MessageType = "clarification"
	MessageTypeSummaryNotice MessageType = "summary_notice"
)

// MessageMetadata carries attribution/search correlation data alongside a
// message without promoting it to a first-class column.
type MessageMetadata struct {
	Sources           []string `json:"sources,omitempty"`
	SearchCorrelation string   `json:"search_correlation_id,omitempty"`
}

// ConversationMessage is an append-only entry within a session.
type ConversationMessage struct {
	ID        string          `json:"id" gorm:"column:id;primaryKey"`
	SessionID string          `json:"session_id" gorm:"column:session_id;index"`
	Ordinal   int             `json:"ordinal" gorm:"column:ordinal"`
	Role      MessageRole     `json:"role" gorm:"column:role"`
	Type      MessageType     `json:"type" gorm:"column:type"`
	Content   string          `json:"content" gorm:"column:content"`
	Tokens    int             `json:"tokens" gorm:"column:tokens"`
	Metadata  MessageMetadata `json:"metadata" gorm:"embedded;embeddedPrefix:meta_"`
	CreatedAt time.Time       `json:"created_at" gorm:"column:created_at"`
}

// ConversationSummary collapses a contiguous ordinal range of messages. A
// new summary from the same strategy invalidates earlier summaries whose
// ranges it subsumes (§3).
type ConversationSummary struct {
	ID           string    `json:"id" gorm:"column:id;primaryKey"`
	SessionID    string    `json:"session_id" gorm:"column:session_id;index"`
	Strategy     string    `json:"strategy" gorm:"column:strategy"`
	FirstOrdinal int       `json:"first_ordinal" gorm:"column:first_ordinal"`
	LastOrdinal  int       `json:"last_ordinal" gorm:"column:last_ordinal"`
	Text         string    `json:"text" gorm:"column:text"`
	TokensSaved  int       `json:"tokens_saved" gorm:"column:tokens_saved"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

// Subsumes reports whether this summary's range fully covers other's range
// and was produced by the same strategy, making other stale.
func (s *ConversationSummary) Subsumes(other *ConversationSummary) bool {
	return s.Strategy == other.Strategy &&
		s.FirstOrdinal <= other.FirstOrdinal &&
		s.LastOrdinal >= other.LastOrdinal &&
		s.ID != other.ID
}

// LLMParameters are a user's default generation knobs (§3, §4.7).
type LLMParameters struct {
	Temperature  float32 `json:"temperature" gorm:"column:temperature"`
	MaxNewTokens int     `json:"max_new_tokens" gorm:"column:max_new_tokens"`
	TopP         float32 `json:"top_p" gorm:"column:top_p"`
	TopK         int     `json:"top_k" gorm:"column:top_k"`
}

// PromptTemplate holds the named template strings a user may customize.
// PodcastGeneration is outside the core pipeline but the slot exists per §3.
type PromptTemplate struct {
	RAGQuery           string `json:"rag_query" gorm:"column:rag_query"`
	QuestionGeneration string `json:"question_generation" gorm:"column:question_generation"`
	PodcastGeneration  string `json:"podcast_generation" gorm:"column:podcast_generation"`
}

// PipelineConfig names the default technique pipeline and its per-technique
// configuration, materialized by internal/technique (§4.5).
type PipelineConfig struct {
	PresetName    string                 `json:"preset_name" gorm:"column:preset_name"`
	TechniqueArgs map[string]interface{} `json:"technique_args" gorm:"serializer:json;column:technique_args"`
}

// UserDefaults bundles the three per-user default records described in §3;
// a user has exactly one of each, lazily created per the §4.7 initialization
// rule.
type UserDefaults struct {
	UserID   string         `json:"user_id" gorm:"column:user_id;primaryKey"`
	LLM      LLMParameters  `json:"llm" gorm:"embedded;embeddedPrefix:llm_"`
	Prompts  PromptTemplate `json:"prompts" gorm:"embedded;embeddedPrefix:prompt_"`
	Pipeline PipelineConfig `json:"pipeline" gorm:"embedded;embeddedPrefix:pipeline_"`
}

// defaultRAGQueryTemplate and defaultQuestionGenerationTemplate are the
// placeholder-bearing prompt bodies a fresh user gets before ever touching
// prompt settings (§4.1). Placeholder names match internal/prompt.Render's
// substitution keys exactly.
const (
	defaultRAGQueryTemplate = "You are a helpful assistant answering questions using only the " +
		"provided context. Current time: {{current_time}}. Known entities: {{entities}}.\n\n" +
		"Context:\n{{context}}\n\nQuestion: {{question}}\n\n" +
		"Answer using only the context above. If the context does not contain the answer, say so."

	defaultQuestionGenerationTemplate = "Given the question \"{{question}}\" and the answer below, " +
		"write a short (4-6 word) title for this conversation. Reply with only the title.\n\n" +
		"Answer:\n{{context}}"
)

// NewDefaultUserDefaults builds the seed record GetOrInitUserDefaults
// creates on a user's first turn (§4.1): usable generation parameters and
// real prompt templates, so a fresh user never renders an empty system
// prompt or calls generation with a zeroed MaxNewTokens.
func NewDefaultUserDefaults() *UserDefaults {
	return &UserDefaults{
		LLM: LLMParameters{
			Temperature:  0.7,
			MaxNewTokens: 1024,
			TopP:         0.9,
			TopK:         40,
		},
		Prompts: PromptTemplate{
			RAGQuery:           defaultRAGQueryTemplate,
			QuestionGeneration: defaultQuestionGenerationTemplate,
		},
		Pipeline: PipelineConfig{
			PresetName:    "default",
			TechniqueArgs: map[string]interface{}{},
		},
	}
}

// RetrievedChunk is a single hit returned by the vector store, carried
// through retrieval and reranking stages.
type RetrievedChunk struct {
	DocumentID     string            `json:"document_id"`
	ChunkOrdinal   int               `json:"chunk_ordinal"`
	Score          float32           `json:"score"`
	Text           string            `json:"text"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`
}

// Source is an attribution entry produced by the final pipeline stage,
// mapping an answer span to the chunk(s) that support it (§4.4g).
type Source struct {
	AnswerSpan   string  `json:"answer_span"`
	DocumentID   string  `json:"document_id"`
	ChunkOrdinal int     `json:"chunk_ordinal"`
	OverlapScore float32 `json:"overlap_score"`
}

// RetrievalMetrics records the vector-retrieval stage's own outcome (§4.4c).
type RetrievalMetrics struct {
	ResultsCount int
	Attempts     int
}

// RerankMetrics records the reranking stage's outcome (§4.4d).
type RerankMetrics struct {
	ResultsCount int
	Degraded     bool
}

// CoTMetrics records the chain-of-thought stage's outcome (§4.4e).
type CoTMetrics struct {
	Triggered        bool
	SubQuestionCount int
	MergedChunkCount int
}

// GenerationMetrics records the generation stage's outcome (§4.4f).
type GenerationMetrics struct {
	TokensUsed int
	Attempts   int
}

// AttributionMetrics records the attribution stage's outcome (§4.4g).
type AttributionMetrics struct {
	SourceCount int
	SpanCount   int
}

// StageMetrics collects every stage's typed result record. A nil field
// means that stage did not run on this request; this replaces an open
// string-keyed metadata bag with a closed, compile-time-checked vocabulary
// (§9).
type StageMetrics struct {
	Retrieval   *RetrievalMetrics
	Rerank      *RerankMetrics
	CoT         *CoTMetrics
	Generation  *GenerationMetrics
	Attribution *AttributionMetrics
}

// RequestOverrides carries the per-request configuration envelope (§6):
// a caller may adjust generation/retrieval knobs for a single turn without
// touching its persisted UserDefaults. The zero value selects every
// persisted default unchanged. PresetName and Techniques are mutually
// exclusive (§4.5, §5): a request names a preset to run or an explicit
// technique list, never both.
type RequestOverrides struct {
	PresetName    string
	Techniques    []string
	TopK          int
	RerankEnabled *bool
	CoTEnabled    *bool
	Temperature   *float32
	MaxNewTokens  *int
	Deadline      time.Duration
}

// SearchContext is the transient, per-request state threaded through the
// search pipeline's stages (§3, §4.4). It is never persisted directly,
// though a subset may be serialized into a ConversationMessage's metadata.
type SearchContext struct {
	OwnerID         string
	CollectionID    string
	SessionID       string
	OriginalQuery   string
	RewrittenQuery  string
	// History and Entities carry the conversation service's per-turn
	// context-manager output (§4.6 context_augmentation) into the
	// enhancement and generation stages. They live here, not on the
	// stage structs, because a Technique is registered once and reused
	// across concurrent requests from different sessions.
	History         []ChatTurn
	Entities        []string
	Retrieved       []RetrievedChunk
	Reranked        []RetrievedChunk
	ReasoningTrace  []string
	Answer          string
	Sources         []Source
	Metrics         StageMetrics
	ConfigSnapshot  PipelineConfig
	LLMSnapshot     LLMParameters
	PromptSnapshot  PromptTemplate
	Overrides       RequestOverrides
	Degraded        bool
	DegradedReasons []string
}

// ChatTurn is a role/content pair threaded into the pipeline as prior
// conversation context, independent of the llm package so domain stays
// free of a dependency on the provider-facing message shape.
type ChatTurn struct {
	Role    string
	Content string
}

// NewSearchContext seeds a fresh context for one search request.
func NewSearchContext(ownerID, collectionID, sessionID, query string) *SearchContext {
	return &SearchContext{
		OwnerID:       ownerID,
		CollectionID:  collectionID,
		SessionID:     sessionID,
		OriginalQuery: query,
	}
}

// MarkDegraded records a non-fatal stage failure (e.g. reranker fallback)
// without aborting the pipeline.
func (s *SearchContext) MarkDegraded(reason string) {
	s.Degraded = true
	s.DegradedReasons = append(s.DegradedReasons, reason)
}
