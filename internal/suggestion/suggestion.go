// Package suggestion implements the follow-up question service (§4.7):
// three independent generators (from built context, from sampled
// documents, from the last answer), then distinctness/length validation
// and relevance ranking. Grounded on the teacher's sequential-thinking
// tool (internal/agent/tools/sequentialthinking.go) for the
// bounded-step-count idiom (thought_number/total_thoughts clamped and
// validated before use), generalized here to max_suggestions clamping.
package suggestion

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/ragcore/ragcore/internal/llm"
)

// DocumentSampler broadly samples chunk text across a collection so the
// "from documents" generator can propose exploratory questions that are
// not anchored to any specific recent conversation turn.
type DocumentSampler interface {
	SampleChunkText(ctx context.Context, collectionID string, n int) ([]string, error)
}

// Service generates and ranks follow-up question suggestions.
type Service struct {
	chat     llm.ChatModel
	embedder llm.EmbeddingModel
	docs     DocumentSampler

	maxSuggestions  int
	minEditDistance int
}

func NewService(chat llm.ChatModel, embedder llm.EmbeddingModel, docs DocumentSampler) *Service {
	return &Service{
		chat:            chat,
		embedder:        embedder,
		docs:            docs,
		maxSuggestions:  5,
		minEditDistance: 9,
	}
}

// Request selects which generators to run and the ranking anchor.
type Request struct {
	ContextText    string // built context text, for the "from context" generator
	CollectionID   string // for the "from documents" generator
	LastAnswer     string // for the "from last message" generator
	MaxSuggestions int    // 0 uses the service default
}

// Suggest runs every generator the request supplies inputs for, then
// dedupes, validates, and ranks the combined candidate pool.
func (s *Service) Suggest(ctx context.Context, req Request) ([]string, error) {
	max := req.MaxSuggestions
	if max <= 0 {
		max = s.maxSuggestions
	}

	var candidates []string
	if strings.TrimSpace(req.ContextText) != "" {
		fromContext, err := s.fromContext(ctx, req.ContextText, max)
		if err == nil {
			candidates = append(candidates, fromContext...)
		}
	}
	if req.CollectionID != "" && s.docs != nil {
		fromDocs, err := s.fromDocuments(ctx, req.CollectionID, max)
		if err == nil {
			candidates = append(candidates, fromDocs...)
		}
	}
	if strings.TrimSpace(req.LastAnswer) != "" {
		fromLast, err := s.fromLastMessage(ctx, req.LastAnswer, max)
		if err == nil {
			candidates = append(candidates, fromLast...)
		}
	}

	valid := s.validate(candidates)
	anchor := req.ContextText
	if anchor == "" {
		anchor = req.LastAnswer
	}
	ranked := s.rank(ctx, anchor, valid)

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked, nil
}

func (s *Service) fromContext(ctx context.Context, contextText string, max int) ([]string, error) {
	system := "Given this conversation context, propose distinct follow-up questions the reader is likely to have. " +
		"One question per line, no numbering, no commentary."
	return s.askForQuestions(ctx, system, contextText, max)
}

func (s *Service) fromDocuments(ctx context.Context, collectionID string, max int) ([]string, error) {
	samples, err := s.docs.SampleChunkText(ctx, collectionID, max*2)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	system := "Given these excerpts sampled broadly from a document collection, propose exploratory questions " +
		"a reader could ask to learn more. One question per line, no numbering, no commentary."
	return s.askForQuestions(ctx, system, strings.Join(samples, "\n---\n"), max)
}

func (s *Service) fromLastMessage(ctx context.Context, lastAnswer string, max int) ([]string, error) {
	system := "Given this answer, propose the most useful next questions a reader would want to ask. " +
		"One question per line, no numbering, no commentary."
	return s.askForQuestions(ctx, system, lastAnswer, max)
}

func (s *Service) askForQuestions(ctx context.Context, system, userContent string, max int) ([]string, error) {
	if s.chat == nil {
		return nil, nil
	}
	result, err := s.chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userContent},
	}, llm.ChatOptions{Temperature: 0.5, MaxNewTokens: 512})
	if err != nil {
		return nil, err
	}
	var questions []string
	for _, line := range strings.Split(result.Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			questions = append(questions, line)
		}
		if len(questions) >= max {
			break
		}
	}
	return questions, nil
}

// validate keeps non-empty, reasonably-sized suggestions and drops any
// whose edit distance to an earlier-kept suggestion falls below the
// dedupe threshold (§4.7 "simple edit-distance dedupe").
func (s *Service) validate(candidates []string) []string {
	const minLen, maxLen = 6, 200
	var kept []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if len(c) < minLen || len(c) > maxLen {
			continue
		}
		if !strings.HasSuffix(c, "?") {
			c += "?"
		}
		duplicate := false
		for _, existing := range kept {
			if levenshtein.ComputeDistance(strings.ToLower(existing), strings.ToLower(c)) < s.minEditDistance {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}

// rank orders suggestions by cosine similarity to the anchor text (built
// context or last answer). Without an embedder, generation order is kept.
func (s *Service) rank(ctx context.Context, anchor string, suggestions []string) []string {
	if s.embedder == nil || anchor == "" || len(suggestions) <= 1 {
		return suggestions
	}
	anchorVec, err := s.embedder.Embed(ctx, anchor)
	if err != nil {
		return suggestions
	}

	type scored struct {
		text  string
		score float32
	}
	scoredList := make([]scored, 0, len(suggestions))
	for _, sgst := range suggestions {
		vec, err := s.embedder.Embed(ctx, sgst)
		if err != nil {
			scoredList = append(scoredList, scored{text: sgst, score: 0})
			continue
		}
		scoredList = append(scoredList, scored{text: sgst, score: cosineSimilarity(anchorVec, vec)})
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]string, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.text
	}
	return out
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
