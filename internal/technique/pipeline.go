package technique

import (
	"context"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/searchpipeline"
)

// DynamicPipeline resolves and runs a technique sequence fresh on every
// call, rather than a fixed stage list built once at startup, since the
// preset and per-technique overrides are a per-user configuration snapshot
// (§3 UserDefaults.Pipeline) rather than a process-wide constant.
type DynamicPipeline struct {
	registry      *Registry
	defaultPreset string
}

// NewDynamicPipeline wires reg for per-request preset resolution.
// defaultPreset is used whenever a request's snapshot names an unknown or
// empty preset.
func NewDynamicPipeline(reg *Registry, defaultPreset string) *DynamicPipeline {
	if defaultPreset == "" {
		defaultPreset = "default"
	}
	return &DynamicPipeline{registry: reg, defaultPreset: defaultPreset}
}

// Run implements conversation.SearchPipeline.
func (d *DynamicPipeline) Run(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	entries, err := d.resolveEntries(sc)
	if err != nil {
		return sc, err
	}

	stages, err := Build(entries, d.registry, BuildOptions{})
	if err != nil {
		return sc, err
	}
	return searchpipeline.NewPipeline(stages...).Run(ctx, sc)
}

// resolveEntries turns a request's persisted preset plus its per-request
// overrides (§6) into the ordered technique list the builder validates.
// sc.Overrides.PresetName and sc.Overrides.Techniques are mutually
// exclusive; conversation.Service rejects a request that sets both before
// the pipeline ever runs, so a non-empty Techniques list here always wins
// over preset resolution.
func (d *DynamicPipeline) resolveEntries(sc *domain.SearchContext) ([]Entry, error) {
	if len(sc.Overrides.Techniques) > 0 {
		entries := make([]Entry, len(sc.Overrides.Techniques))
		for i, id := range sc.Overrides.Techniques {
			entries[i] = Entry{TechniqueID: id, Config: mergeOverride(nil, sc.ConfigSnapshot.TechniqueArgs[id])}
		}
		return entries, nil
	}

	presetName := sc.Overrides.PresetName
	if presetName == "" {
		presetName = sc.ConfigSnapshot.PresetName
	}
	preset, ok := Resolve(presetName)
	if !ok {
		preset, ok = Resolve(d.defaultPreset)
		if !ok {
			return nil, apperrors.InvalidPipeline("no default pipeline preset registered: " + d.defaultPreset)
		}
	}

	entries := make([]Entry, len(preset.Entries))
	for i, e := range preset.Entries {
		entries[i] = Entry{TechniqueID: e.TechniqueID, Config: mergeOverride(e.Config, sc.ConfigSnapshot.TechniqueArgs[e.TechniqueID])}
	}

	entries, err := d.applyToggles(entries, sc.Overrides)
	if err != nil {
		return nil, err
	}
	if sc.Overrides.TopK > 0 {
		entries = applyTopK(entries, sc.Overrides.TopK)
	}
	return entries, nil
}

// applyToggles adds or removes the reranking and chain-of-thought
// techniques per the request's RerankEnabled/CoTEnabled overrides (§6).
func (d *DynamicPipeline) applyToggles(entries []Entry, overrides domain.RequestOverrides) ([]Entry, error) {
	if overrides.RerankEnabled != nil {
		hasRerank := containsTechnique(entries, "reranking")
		switch {
		case !*overrides.RerankEnabled && hasRerank:
			entries = removeTechnique(entries, "reranking")
		case *overrides.RerankEnabled && !hasRerank:
			entries = insertAfterStage(entries, d.registry, StageRetrieval, Entry{TechniqueID: "reranking"})
		}
	}

	if overrides.CoTEnabled != nil {
		hasCoT := containsTechnique(entries, "cot_decomposition")
		switch {
		case !*overrides.CoTEnabled && hasCoT:
			entries = removeTechnique(entries, "cot_decomposition")
			entries = removeTechnique(entries, "cot_synthesis")
		case *overrides.CoTEnabled && hasCoT:
			return nil, apperrors.InvalidPipeline("cot_enabled=true is redundant: the resolved preset already runs chain-of-thought")
		case *overrides.CoTEnabled && !hasCoT:
			entries = insertAfterStage(entries, d.registry, StagePostRetrieval, Entry{TechniqueID: "cot_decomposition"})
			entries = insertAfterStage(entries, d.registry, StageReasoning, Entry{TechniqueID: "cot_synthesis"})
		}
	}
	return entries, nil
}

// applyTopK overrides the top_k config on the first retrieval-stage entry,
// whichever retrieval technique the preset happened to choose.
func applyTopK(entries []Entry, topK int) []Entry {
	for i, e := range entries {
		if e.TechniqueID == "vector_retrieval" || e.TechniqueID == "fusion_retrieval" {
			cfg := make(map[string]any, len(e.Config)+1)
			for k, v := range e.Config {
				cfg[k] = v
			}
			cfg["top_k"] = topK
			entries[i].Config = cfg
			break
		}
	}
	return entries
}

func containsTechnique(entries []Entry, id string) bool {
	for _, e := range entries {
		if e.TechniqueID == id {
			return true
		}
	}
	return false
}

func removeTechnique(entries []Entry, id string) []Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.TechniqueID != id {
			out = append(out, e)
		}
	}
	return out
}

// insertAfterStage inserts entry immediately after the last existing entry
// whose technique resolves to stage or an earlier one, preserving the
// builder's non-decreasing stage-order rule. An unknown technique ID in
// entry is left for Build to reject.
func insertAfterStage(entries []Entry, reg *Registry, stage StageName, entry Entry) []Entry {
	insertAt := len(entries)
	targetRank := stageRank[stage]
	for i, e := range entries {
		t, ok := reg.Get(e.TechniqueID)
		if !ok || stageRank[t.Stage()] > targetRank {
			insertAt = i
			break
		}
	}
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:insertAt]...)
	out = append(out, entry)
	out = append(out, entries[insertAt:]...)
	return out
}

// mergeOverride layers a per-request technique override on top of the
// preset's own default config, request values winning on key collision.
func mergeOverride(base map[string]any, override interface{}) map[string]any {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	if m, ok := override.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
