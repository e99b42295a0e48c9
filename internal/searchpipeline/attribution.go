package searchpipeline

import (
	"context"
	"strings"

	"github.com/ragcore/ragcore/internal/domain"
)

// AttributionStage maps each sentence (or paragraph) of the generated
// answer back to the chunk(s) that most likely support it, by word-overlap
// scoring (§4.4g). This generalizes the teacher's
// enrichContentWithImageInfo passage-to-source rendering into a
// granularity-agnostic overlap scorer, dropping the image-specific and
// Chinese-language literals (no image pipeline in this spec).
type AttributionStage struct {
	// Granularity is "sentence" (default) or "paragraph".
	Granularity string
	MinOverlap  float32
}

func (AttributionStage) Name() string { return "attribution" }

func (a AttributionStage) Execute(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	chunks := sc.Reranked
	if chunks == nil {
		chunks = sc.Retrieved
	}
	if sc.Answer == "" || len(chunks) == 0 {
		return sc, nil
	}

	spans := splitSpans(sc.Answer, a.Granularity)
	minOverlap := a.MinOverlap
	if minOverlap <= 0 {
		minOverlap = 0.15
	}

	var sources []domain.Source
	for _, span := range spans {
		spanWords := wordSet(span)
		if len(spanWords) == 0 {
			continue
		}
		var best domain.RetrievedChunk
		var bestScore float32
		found := false
		for _, chunk := range chunks {
			score := overlapScore(spanWords, wordSet(chunk.Text))
			if score > bestScore {
				bestScore = score
				best = chunk
				found = true
			}
		}
		if found && bestScore >= minOverlap {
			sources = append(sources, domain.Source{
				AnswerSpan:   span,
				DocumentID:   best.DocumentID,
				ChunkOrdinal: best.ChunkOrdinal,
				OverlapScore: bestScore,
			})
		}
	}
	sc.Sources = sources
	sc.Metrics.Attribution = &domain.AttributionMetrics{SourceCount: len(sources), SpanCount: len(spans)}
	return sc, nil
}

func splitSpans(answer, granularity string) []string {
	var raw []string
	if granularity == "paragraph" {
		raw = strings.Split(answer, "\n\n")
	} else {
		raw = splitSentences(answer)
	}
	spans := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			spans = append(spans, s)
		}
	}
	return spans
}

func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		sentences = append(sentences, b.String())
	}
	return sentences
}

func wordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:\"'()")] = true
	}
	delete(set, "")
	return set
}

// overlapScore is the Jaccard similarity between two word sets.
func overlapScore(a, b map[string]bool) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}
