// Package chunker splits parsed document text into token-budgeted chunks.
// Sizing is grounded on the teacher's tokenizer-aware truncation field
// (embedding.Config.TruncatePromptTokens in
// internal/models/embedding/embedder.go): a chunk must never be built
// right up against a model's hard token limit, so a safety margin is
// always reserved below the configured chunk size.
package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
)

// defaultEncoding is used for any model not recognized by tiktoken-go's
// model-to-encoding table; cl100k_base is a safe, widely compatible
// approximation for token-count budgeting purposes.
const defaultEncoding = "cl100k_base"

// Chunk is a single token-budgeted slice of a document's text, not yet
// assigned an ordinal or persisted.
type Chunk struct {
	Text        string
	TokenCount  int
	StartOffset int
	EndOffset   int
}

// Splitter turns text into chunks honoring a ChunkingPolicy plus the
// configured safety margin.
type Splitter struct {
	safetyMarginTokens int
}

func NewSplitter(safetyMarginTokens int) (*Splitter, error) {
	if safetyMarginTokens <= 0 {
		return nil, apperrors.ConfigurationError("chunker safety margin must be positive", nil)
	}
	return &Splitter{safetyMarginTokens: safetyMarginTokens}, nil
}

// Split breaks text into overlapping, token-bounded chunks. The effective
// chunk size is policy.ChunkSizeTokens minus the splitter's safety margin,
// never less than 1 token.
func (s *Splitter) Split(text string, policy domain.ChunkingPolicy) ([]Chunk, error) {
	enc, err := encodingFor(policy.EmbeddingModelID)
	if err != nil {
		return nil, apperrors.CorruptInput("tokenizer encoding unavailable: " + err.Error())
	}

	effectiveSize := policy.ChunkSizeTokens - s.safetyMarginTokens
	if effectiveSize <= 0 {
		effectiveSize = 1
	}
	overlap := policy.OverlapTokens
	if overlap >= effectiveSize {
		overlap = effectiveSize - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	stride := effectiveSize - overlap
	if stride <= 0 {
		stride = 1
	}
	for start := 0; start < len(tokens); start += stride {
		end := start + effectiveSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunkTokens := tokens[start:end]
		chunkText := enc.Decode(chunkTokens)
		chunks = append(chunks, Chunk{
			Text:        strings.TrimSpace(chunkText),
			TokenCount:  len(chunkTokens),
			StartOffset: start,
			EndOffset:   end,
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

func encodingFor(modelID string) (*tiktoken.Tiktoken, error) {
	if modelID != "" {
		if enc, err := tiktoken.EncodingForModel(modelID); err == nil {
			return enc, nil
		}
	}
	return tiktoken.GetEncoding(defaultEncoding)
}
