// Package prompt renders a user's PromptTemplate slots into concrete chat
// messages, generalizing the teacher's renderSystemPromptPlaceholders
// (chat_pipline/common.go) from a single {{current_time}} substitution into
// the fuller placeholder set the search and context-manager stages need:
// {{question}}, {{context}}, {{history}}, {{entities}}, {{current_time}}.
package prompt

import (
	"strconv"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
)

// Vars is the placeholder substitution table for Render.
type Vars map[string]string

// Render replaces every {{key}} placeholder present in tpl with vars[key].
// Placeholders with no matching entry are left untouched, matching the
// teacher's conditional substitution (only replace what's actually there).
func Render(tpl string, vars Vars) string {
	result := tpl
	for k, v := range vars {
		placeholder := "{{" + k + "}}"
		if strings.Contains(result, placeholder) {
			result = strings.ReplaceAll(result, placeholder, v)
		}
	}
	if strings.Contains(result, "{{current_time}}") {
		result = strings.ReplaceAll(result, "{{current_time}}", time.Now().Format(time.RFC3339))
	}
	return result
}

// BuildContextBlock renders retrieved chunks into the flat text block the
// RAG_QUERY template's {{context}} slot expects: one numbered passage per
// chunk, source-tagged so the generation stage's answer can be attributed
// back to a (document_id, chunk_ordinal) pair downstream.
func BuildContextBlock(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range chunks {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] (doc=")
		b.WriteString(c.DocumentID)
		b.WriteString(" chunk=")
		b.WriteString(strconv.Itoa(c.ChunkOrdinal))
		b.WriteString(")\n")
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildRAGMessages assembles the system+history+user message sequence for
// the generation stage, following the teacher's prepareMessagesWithHistory
// shape (system prompt first, then alternating history turns, then the
// current question) but sourcing history from plain role/content pairs
// instead of a query/answer struct, and folding the retrieved context and
// tracked entities into the rendered system prompt rather than a separate
// message.
func BuildRAGMessages(tpl domain.PromptTemplate, question string, chunks []domain.RetrievedChunk, history []llm.Message, entities []string) []llm.Message {
	system := Render(tpl.RAGQuery, Vars{
		"question": question,
		"context":  BuildContextBlock(chunks),
		"entities": strings.Join(entities, ", "),
	})

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: question})
	return messages
}

// BuildNamingPrompt repurposes the QUESTION_GENERATION template for session
// auto-naming (§4.6): a short name request seeded with the first turn.
func BuildNamingPrompt(tpl domain.PromptTemplate, question, answer string) []llm.Message {
	system := Render(tpl.QuestionGeneration, Vars{
		"question": question,
		"context":  answer,
	})
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Give this conversation a short name of six words or fewer."},
	}
}
