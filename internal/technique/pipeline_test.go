package technique

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/domain"
)

func entryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TechniqueID
	}
	return ids
}

func TestResolveEntriesUsesExplicitTechniquesWhenSet(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Overrides = domain.RequestOverrides{Techniques: []string{"vector_retrieval", "rag_generation"}}

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"vector_retrieval", "rag_generation"}, entryIDs(entries))
}

func TestResolveEntriesFallsBackToDefaultPreset(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"query_rewriting", "vector_retrieval", "reranking", "rag_generation", "source_attribution"}, entryIDs(entries))
}

func TestResolveEntriesHonorsNamedPresetOverride(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Overrides = domain.RequestOverrides{PresetName: "fast"}

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"vector_retrieval", "rag_generation"}, entryIDs(entries))
}

func TestResolveEntriesDisablesRerankOnRequest(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	disabled := false
	sc.Overrides = domain.RequestOverrides{RerankEnabled: &disabled}

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	assert.NotContains(t, entryIDs(entries), "reranking")
}

func TestResolveEntriesEnablesRerankOnRequest(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Overrides = domain.RequestOverrides{PresetName: "fast"}
	enabled := true
	sc.Overrides.RerankEnabled = &enabled

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	ids := entryIDs(entries)
	assert.Contains(t, ids, "reranking")

	rerankIdx, retrievalIdx := -1, -1
	for i, id := range ids {
		if id == "reranking" {
			rerankIdx = i
		}
		if id == "vector_retrieval" {
			retrievalIdx = i
		}
	}
	assert.Greater(t, rerankIdx, retrievalIdx)
}

func TestResolveEntriesEnablesCoTOnRequest(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	enabled := true
	sc.Overrides = domain.RequestOverrides{CoTEnabled: &enabled}

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	ids := entryIDs(entries)
	assert.Contains(t, ids, "cot_decomposition")
	assert.Contains(t, ids, "cot_synthesis")
}

func TestResolveEntriesRejectsRedundantCoTEnable(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Overrides = domain.RequestOverrides{PresetName: "accurate"}
	enabled := true
	sc.Overrides.CoTEnabled = &enabled

	_, err := d.resolveEntries(sc)
	assert.Error(t, err)
}

func TestResolveEntriesAppliesTopKToRetrievalTechnique(t *testing.T) {
	d := NewDynamicPipeline(newTestRegistry(), "default")
	sc := domain.NewSearchContext("u1", "c1", "s1", "q")
	sc.Overrides = domain.RequestOverrides{TopK: 15}

	entries, err := d.resolveEntries(sc)
	require.NoError(t, err)
	for _, e := range entries {
		if e.TechniqueID == "vector_retrieval" {
			assert.Equal(t, 15, e.Config["top_k"])
			return
		}
	}
	t.Fatal("vector_retrieval entry not found")
}
