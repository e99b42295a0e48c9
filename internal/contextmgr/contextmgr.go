// Package contextmgr builds the bounded, relevance-pruned context handed to
// the search pipeline on every conversation turn, and tracks the per-session
// entity set used to resolve follow-up coreference (§4.6). Grounded on the
// teacher's Redis-backed temp-KB state idiom (whole state behind one
// namespaced key) for entity and relevance persistence, and on
// chat_pipline/load_history.go's round-limiting/history-shaping idiom for
// the bounded context builder itself.
package contextmgr

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	redisstore "github.com/ragcore/ragcore/internal/store/redis"
)

// EntityStore is the subset of redis.Client the manager needs for entity
// persistence.
type EntityStore interface {
	SaveEntityTracker(ctx context.Context, sessionID string, entities []redisstore.TrackedEntity) error
	LoadEntityTracker(ctx context.Context, sessionID string) ([]redisstore.TrackedEntity, error)
	DeleteEntityTracker(ctx context.Context, sessionID string) error
}

// RelevanceCache is the subset of redis.Client the manager needs for the
// pruning-decision cache.
type RelevanceCache interface {
	SaveRelevanceCache(ctx context.Context, sessionID string, entry redisstore.RelevanceCacheEntry, ttl time.Duration) error
	LoadRelevanceCache(ctx context.Context, sessionID string) (*redisstore.RelevanceCacheEntry, bool, error)
}

// Manager builds bounded context, tracks entities, and decides when a
// session needs summarization.
type Manager struct {
	entities   EntityStore
	relevance  RelevanceCache
	embedder   llm.EmbeddingModel
	chat       llm.ChatModel
	cacheTTL   time.Duration
	maxContext int // default token budget when callers don't override
}

// Option configures non-required Manager fields.
type Option func(*Manager)

func WithRelevanceCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.cacheTTL = ttl }
}

func NewManager(entities EntityStore, relevance RelevanceCache, embedder llm.EmbeddingModel, chat llm.ChatModel, maxContextTokens int, opts ...Option) *Manager {
	m := &Manager{
		entities:   entities,
		relevance:  relevance,
		embedder:   embedder,
		chat:       chat,
		cacheTTL:   time.Hour,
		maxContext: maxContextTokens,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bundle is the context-manager's output for one turn, carried into
// SearchInput's context_augmentation (§4.6 step 3).
type Bundle struct {
	Messages     []*domain.ConversationMessage
	SummaryText  string
	Entities     []redisstore.TrackedEntity
	IsFollowUp   bool
	AnchorHint   string
}

// BuildContext assembles the bounded, relevance-pruned context for one
// turn. messages must be in ascending ordinal order; summaries may be
// empty. tokenBudget overrides the manager default when positive.
func (m *Manager) BuildContext(
	ctx context.Context,
	sessionID, question string,
	messages []*domain.ConversationMessage,
	summaries []*domain.ConversationSummary,
	tokenBudget int,
) (*Bundle, error) {
	if tokenBudget <= 0 {
		tokenBudget = m.maxContext
	}

	latestSummary, newerMessages := splitAtLatestSummary(messages, summaries)

	budget := tokenBudget
	if latestSummary != nil {
		budget -= latestSummary.TokensSaved
	}

	kept, dropped := takeWithinBudget(newerMessages, budget)
	if len(dropped) > 0 && m.embedder != nil {
		pruned, err := m.pruneByRelevance(ctx, sessionID, question, kept, dropped, budget)
		if err == nil {
			kept = pruned
		}
	}

	entities, err := m.entities.LoadEntityTracker(ctx, sessionID)
	if err != nil {
		entities = nil
	}

	bundle := &Bundle{
		Messages: kept,
		Entities: entities,
	}
	if latestSummary != nil {
		bundle.SummaryText = latestSummary.Text
	}

	bundle.IsFollowUp = m.isFollowUp(ctx, question, entities, kept)
	bundle.AnchorHint = anchorHint(entities, bundle.IsFollowUp)
	return bundle, nil
}

// splitAtLatestSummary finds the most recent, non-superseded summary and
// the messages newer than its range.
func splitAtLatestSummary(messages []*domain.ConversationMessage, summaries []*domain.ConversationSummary) (*domain.ConversationSummary, []*domain.ConversationMessage) {
	var latest *domain.ConversationSummary
	for _, s := range summaries {
		if latest == nil || s.LastOrdinal > latest.LastOrdinal {
			latest = s
		}
	}
	if latest == nil {
		return nil, messages
	}
	newer := make([]*domain.ConversationMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Ordinal > latest.LastOrdinal {
			newer = append(newer, msg)
		}
	}
	return latest, newer
}

// takeWithinBudget walks messages newest-first, keeping as many as fit
// within budget tokens, then restores ascending order.
func takeWithinBudget(messages []*domain.ConversationMessage, budget int) (kept, dropped []*domain.ConversationMessage) {
	used := 0
	keptRev := make([]*domain.ConversationMessage, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if used+msg.Tokens > budget && len(keptRev) > 0 {
			dropped = append(dropped, msg)
			continue
		}
		used += msg.Tokens
		keptRev = append(keptRev, msg)
	}
	kept = make([]*domain.ConversationMessage, len(keptRev))
	for i, msg := range keptRev {
		kept[len(keptRev)-1-i] = msg
	}
	return kept, dropped
}

// pruneByRelevance scores dropped messages against the question and folds
// back in the highest-scoring ones that still fit the remaining budget.
// The computed scores are written to the relevance cache, but this
// function does not read that cache: every call embeds the question and
// each dropped message again.
func (m *Manager) pruneByRelevance(ctx context.Context, sessionID, question string, kept, dropped []*domain.ConversationMessage, budget int) ([]*domain.ConversationMessage, error) {
	used := 0
	for _, msg := range kept {
		used += msg.Tokens
	}
	remaining := budget - used
	if remaining <= 0 {
		return kept, nil
	}

	questionVec, err := m.embedder.Embed(ctx, question)
	if err != nil {
		return kept, err
	}

	type scored struct {
		msg   *domain.ConversationMessage
		score float32
	}
	scoredMsgs := make([]scored, 0, len(dropped))
	for _, msg := range dropped {
		vec, err := m.embedder.Embed(ctx, msg.Content)
		if err != nil {
			continue
		}
		scoredMsgs = append(scoredMsgs, scored{msg: msg, score: cosineSimilarity(questionVec, vec)})
	}
	sort.SliceStable(scoredMsgs, func(i, j int) bool { return scoredMsgs[i].score > scoredMsgs[j].score })

	if m.relevance != nil {
		entry := redisstore.RelevanceCacheEntry{RelevanceScores: make(map[string]float32, len(scoredMsgs))}
		for _, s := range scoredMsgs {
			entry.RelevanceScores[s.msg.ID] = s.score
		}
		_ = m.relevance.SaveRelevanceCache(ctx, sessionID, entry, m.cacheTTL)
	}

	foldedBack := make([]*domain.ConversationMessage, 0, len(scoredMsgs))
	for _, s := range scoredMsgs {
		if s.msg.Tokens > remaining {
			continue
		}
		remaining -= s.msg.Tokens
		foldedBack = append(foldedBack, s.msg)
	}
	sort.SliceStable(foldedBack, func(i, j int) bool { return foldedBack[i].Ordinal < foldedBack[j].Ordinal })

	merged := make([]*domain.ConversationMessage, 0, len(kept)+len(foldedBack))
	merged = append(merged, foldedBack...)
	merged = append(merged, kept...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Ordinal < merged[j].Ordinal })
	return merged, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// ShouldSummarize reports whether the unsummarized token count exceeds the
// threshold (when threshold <= 0: half the context window). Only the token
// count is compared; the number of unsummarized messages is not considered.
func (m *Manager) ShouldSummarize(unsummarizedTokens int, threshold int) bool {
	if threshold <= 0 {
		threshold = m.maxContext / 2
	}
	return unsummarizedTokens > threshold
}

// naming and summarization prompts are plain string templates rendered by
// internal/prompt; contextmgr only decides *when* to summarize, the actual
// LLM call belongs to the conversation service which owns persistence of
// the resulting ConversationSummary row.

// --- entity tracking ---------------------------------------------------------

// capitalizedPhrase extracts runs of Title-Case words as a crude
// noun-phrase proxy. The example pack carries no NLP/NER library for any
// language, so this stays on regexp/strings rather than reaching for an
// unverified third-party tagger (DESIGN.md).
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\b`)

// stopWords are capitalized words that typically open a sentence or a
// question and are never tracked as entities on their own.
var stopWords = map[string]bool{
	"I": true, "The": true, "A": true, "An": true, "It": true,
	"What": true, "Who": true, "Where": true, "When": true, "Why": true, "How": true, "Which": true,
	"Tell": true, "Explain": true, "Describe": true, "Please": true,
}

// ExtractEntities finds candidate noun phrases in text.
func ExtractEntities(text string) []string {
	matches := capitalizedPhrase.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if stopWords[m] || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// UpdateEntities merges newly mentioned entities from a message into the
// session's tracked set, tagging first/last mention ordinals, and
// persists the result.
func (m *Manager) UpdateEntities(ctx context.Context, sessionID string, ordinal int, text string) error {
	existing, err := m.entities.LoadEntityTracker(ctx, sessionID)
	if err != nil {
		existing = nil
	}
	byText := make(map[string]redisstore.TrackedEntity, len(existing))
	for _, e := range existing {
		byText[e.Text] = e
	}
	for _, phrase := range ExtractEntities(text) {
		e, ok := byText[phrase]
		if !ok {
			e = redisstore.TrackedEntity{Text: phrase, FirstOrdinal: ordinal}
		}
		e.LastOrdinal = ordinal
		byText[phrase] = e
	}
	merged := make([]redisstore.TrackedEntity, 0, len(byText))
	for _, e := range byText {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].FirstOrdinal < merged[j].FirstOrdinal })
	return m.entities.SaveEntityTracker(ctx, sessionID, merged)
}

// RebuildEntityTracker discards the session's tracked-entity state and
// replays it from the full message history, in ordinal order. Used by the
// rebuild_entities job (§4.8) to recover from a tracker that drifted from
// history (e.g. after a manual data fix) or was lost outright.
func (m *Manager) RebuildEntityTracker(ctx context.Context, sessionID string, messages []*domain.ConversationMessage) error {
	if err := m.entities.DeleteEntityTracker(ctx, sessionID); err != nil {
		return err
	}
	for _, msg := range messages {
		if err := m.UpdateEntities(ctx, sessionID, msg.Ordinal, msg.Content); err != nil {
			return err
		}
	}
	return nil
}

var pronounRe = regexp.MustCompile(`(?i)\b(it|this|that|they|them|these|those|he|she)\b`)

// isFollowUp implements the two-part classifier from §4.6: unresolved
// pronouns referencing tracked entities, or high similarity to the
// immediately preceding assistant message.
func (m *Manager) isFollowUp(ctx context.Context, question string, entities []redisstore.TrackedEntity, kept []*domain.ConversationMessage) bool {
	if len(entities) > 0 && pronounRe.MatchString(question) {
		return true
	}
	lastAssistant := lastAssistantMessage(kept)
	if lastAssistant == nil || m.embedder == nil {
		return false
	}
	qVec, err1 := m.embedder.Embed(ctx, question)
	aVec, err2 := m.embedder.Embed(ctx, lastAssistant.Content)
	if err1 != nil || err2 != nil {
		return false
	}
	const followUpSimilarityThreshold = 0.82
	return cosineSimilarity(qVec, aVec) >= followUpSimilarityThreshold
}

func lastAssistantMessage(messages []*domain.ConversationMessage) *domain.ConversationMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleAssistant {
			return messages[i]
		}
	}
	return nil
}

// anchorHint renders the tracked entities into a short string the query
// rewriter can fold into its coreference-resolution prompt. It emits a
// stronger hint when the turn was classified as a follow-up (§4.6).
func anchorHint(entities []redisstore.TrackedEntity, followUp bool) string {
	if len(entities) == 0 {
		return ""
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Text)
	}
	if followUp {
		return fmt.Sprintf("This is a follow-up question. Likely referents: %s.", strings.Join(names, ", "))
	}
	return fmt.Sprintf("Known entities in this conversation: %s.", strings.Join(names, ", "))
}
