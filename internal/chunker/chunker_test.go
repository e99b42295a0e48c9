package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/domain"
)

func TestSplitProducesOverlappingChunks(t *testing.T) {
	s, err := NewSplitter(4)
	require.NoError(t, err)
	text := strings.Repeat("word ", 100)
	policy := domain.ChunkingPolicy{ChunkSizeTokens: 20, OverlapTokens: 5}

	chunks, err := s.Split(text, policy)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 16)
	}
}

func TestSplitEmptyTextReturnsNoChunks(t *testing.T) {
	s, err := NewSplitter(4)
	require.NoError(t, err)
	chunks, err := s.Split("", domain.ChunkingPolicy{ChunkSizeTokens: 20, OverlapTokens: 5})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitClampsOverlapBelowEffectiveSize(t *testing.T) {
	s, err := NewSplitter(18)
	require.NoError(t, err)
	text := strings.Repeat("word ", 50)
	policy := domain.ChunkingPolicy{ChunkSizeTokens: 20, OverlapTokens: 15}

	chunks, err := s.Split(text, policy)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}

func TestNewSplitterRejectsNonPositiveSafetyMargin(t *testing.T) {
	_, err := NewSplitter(0)
	require.Error(t, err)

	_, err = NewSplitter(-1)
	require.Error(t, err)
}

func TestSplitSingleChunkWhenTextFitsBudget(t *testing.T) {
	s, err := NewSplitter(4)
	require.NoError(t, err)
	chunks, err := s.Split("short text", domain.ChunkingPolicy{ChunkSizeTokens: 512, OverlapTokens: 64})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
}
