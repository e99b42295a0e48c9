package searchpipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/ragcore/ragcore/internal/domain"
)

// CompressionStage implements contextual compression (§6): it trims each
// retrieved chunk down to the sentences with the highest word overlap
// against the query, instead of feeding the full chunk text to generation.
// This shrinks the prompt and concentrates the model's attention on the
// passages that actually bear on the question. Reuses AttributionStage's
// wordSet/overlapScore Jaccard scorer, the only overlap-scoring code in the
// pipeline, rather than duplicating it.
type CompressionStage struct {
	// MaxSentencesPerChunk caps how many sentences survive per chunk. 0
	// means 3.
	MaxSentencesPerChunk int
	// MinOverlap discards a sentence scoring below this against the
	// query. 0 means 0.05, low enough to keep context-setting sentences
	// that share few words with the question but sit beside one that does.
	MinOverlap float32
}

func (CompressionStage) Name() string { return "contextual_compression" }

func (c CompressionStage) Execute(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	source := sc.Reranked
	if source == nil {
		source = sc.Retrieved
	}
	if len(source) == 0 {
		return sc, nil
	}

	maxSentences := c.MaxSentencesPerChunk
	if maxSentences <= 0 {
		maxSentences = 3
	}
	minOverlap := c.MinOverlap
	if minOverlap <= 0 {
		minOverlap = 0.05
	}

	query := sc.RewrittenQuery
	if query == "" {
		query = sc.OriginalQuery
	}
	queryWords := wordSet(query)

	compressed := make([]domain.RetrievedChunk, len(source))
	for i, chunk := range source {
		compressed[i] = chunk
		if len(queryWords) == 0 {
			continue
		}
		sentences := splitSentences(chunk.Text)
		if len(sentences) <= maxSentences {
			continue
		}

		type scored struct {
			index int
			text  string
			score float32
		}
		ranked := make([]scored, len(sentences))
		for j, s := range sentences {
			ranked[j] = scored{index: j, text: s, score: overlapScore(queryWords, wordSet(s))}
		}
		sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

		kept := ranked
		if len(kept) > maxSentences {
			kept = kept[:maxSentences]
		}
		var survivors []scored
		for _, s := range kept {
			if s.score >= minOverlap {
				survivors = append(survivors, s)
			}
		}
		if len(survivors) == 0 {
			continue
		}
		sort.Slice(survivors, func(a, b int) bool { return survivors[a].index < survivors[b].index })

		var b strings.Builder
		for k, s := range survivors {
			if k > 0 {
				b.WriteString(" ")
			}
			b.WriteString(strings.TrimSpace(s.text))
		}
		compressed[i].Text = b.String()
	}

	if sc.Reranked != nil {
		sc.Reranked = compressed
	} else {
		sc.Retrieved = compressed
	}
	return sc, nil
}
