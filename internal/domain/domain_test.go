package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentCanTransition(t *testing.T) {
	t.Run("forward chain is legal", func(t *testing.T) {
		d := &Document{Status: DocumentStatusPending}
		assert.True(t, d.CanTransition(DocumentStatusParsing))
		d.Status = DocumentStatusParsing
		assert.True(t, d.CanTransition(DocumentStatusChunking))
		d.Status = DocumentStatusChunking
		assert.True(t, d.CanTransition(DocumentStatusEmbedding))
		d.Status = DocumentStatusEmbedding
		assert.True(t, d.CanTransition(DocumentStatusIndexed))
	})

	t.Run("indexed to parsing is the only backward transition", func(t *testing.T) {
		d := &Document{Status: DocumentStatusIndexed}
		assert.True(t, d.CanTransition(DocumentStatusParsing))
		assert.False(t, d.CanTransition(DocumentStatusChunking))
		assert.False(t, d.CanTransition(DocumentStatusEmbedding))
	})

	t.Run("failed may only retry via parsing", func(t *testing.T) {
		d := &Document{Status: DocumentStatusFailed}
		assert.True(t, d.CanTransition(DocumentStatusParsing))
		assert.False(t, d.CanTransition(DocumentStatusIndexed))
	})

	t.Run("any state may fail", func(t *testing.T) {
		for _, s := range []DocumentStatus{DocumentStatusPending, DocumentStatusParsing, DocumentStatusChunking, DocumentStatusEmbedding} {
			d := &Document{Status: s}
			assert.True(t, d.CanTransition(DocumentStatusFailed), "status %s should be able to fail", s)
		}
	})
}

func TestCollectionIsUsable(t *testing.T) {
	c := &Collection{Status: CollectionStatusActive}
	assert.True(t, c.IsUsable())
	c.Status = CollectionStatusDeleted
	assert.False(t, c.IsUsable())
}

func TestConversationSessionIsWritable(t *testing.T) {
	t.Run("active and bound", func(t *testing.T) {
		s := &ConversationSession{Status: SessionStatusActive}
		assert.True(t, s.IsWritable())
	})

	t.Run("tombstoned collection makes session read-only", func(t *testing.T) {
		s := &ConversationSession{Status: SessionStatusActive, CollectionGone: true}
		assert.False(t, s.IsWritable())
	})

	t.Run("archived is never writable", func(t *testing.T) {
		s := &ConversationSession{Status: SessionStatusArchived}
		assert.False(t, s.IsWritable())
	})
}

func TestConversationSummarySubsumes(t *testing.T) {
	older := &ConversationSummary{ID: "a", Strategy: "rolling", FirstOrdinal: 1, LastOrdinal: 10}
	newer := &ConversationSummary{ID: "b", Strategy: "rolling", FirstOrdinal: 1, LastOrdinal: 20}

	assert.True(t, newer.Subsumes(older))
	assert.False(t, older.Subsumes(newer))

	t.Run("different strategy never subsumes", func(t *testing.T) {
		other := &ConversationSummary{ID: "c", Strategy: "entity", FirstOrdinal: 1, LastOrdinal: 20}
		assert.False(t, other.Subsumes(older))
	})
}

func TestChunkVectorKey(t *testing.T) {
	c := &Chunk{DocumentID: "doc-1", Ordinal: 7}
	assert.Equal(t, "doc-1:7", c.VectorKey())
}

func TestNewSearchContext(t *testing.T) {
	sc := NewSearchContext("user-1", "col-1", "sess-1", "what is rag?")
	require.NotNil(t, sc)
	assert.Equal(t, "what is rag?", sc.OriginalQuery)
	assert.Empty(t, sc.RewrittenQuery)
	assert.Nil(t, sc.Metrics.Retrieval)
	assert.False(t, sc.Degraded)

	sc.MarkDegraded("rerank provider unavailable")
	assert.True(t, sc.Degraded)
	assert.Contains(t, sc.DegradedReasons, "rerank provider unavailable")
}

func TestNewDefaultUserDefaultsIsUsable(t *testing.T) {
	defaults := NewDefaultUserDefaults()
	assert.Positive(t, defaults.LLM.MaxNewTokens)
	assert.Positive(t, defaults.LLM.Temperature)
	assert.Contains(t, defaults.Prompts.RAGQuery, "{{question}}")
	assert.Contains(t, defaults.Prompts.RAGQuery, "{{context}}")
	assert.Contains(t, defaults.Prompts.QuestionGeneration, "{{question}}")
	assert.NotEmpty(t, defaults.Pipeline.PresetName)
}
