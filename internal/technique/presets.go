package technique

// Preset names a reusable, language-neutral technique sequence (§4.5). A
// preset is configuration, not a new code path: Resolve turns it into the
// same []Entry shape an explicit technique list would produce.
type Preset struct {
	Name    string
	Entries []Entry
}

// Presets holds the minimum named set spec.md §4.5 requires.
var Presets = map[string]Preset{
	"default": {
		Name: "default",
		Entries: []Entry{
			{TechniqueID: "query_rewriting"},
			{TechniqueID: "vector_retrieval"},
			{TechniqueID: "reranking"},
			{TechniqueID: "rag_generation"},
			{TechniqueID: "source_attribution"},
		},
	},
	"fast": {
		Name: "fast",
		Entries: []Entry{
			{TechniqueID: "vector_retrieval", Config: map[string]any{"top_k": 4}},
			{TechniqueID: "rag_generation"},
		},
	},
	"accurate": {
		Name: "accurate",
		Entries: []Entry{
			{TechniqueID: "hyde"},
			{TechniqueID: "vector_retrieval", Config: map[string]any{"top_k": 16}},
			{TechniqueID: "reranking", Config: map[string]any{"top_n": 6}},
			{TechniqueID: "contextual_compression"},
			{TechniqueID: "cot_decomposition"},
			{TechniqueID: "cot_synthesis"},
			{TechniqueID: "rag_generation", Config: map[string]any{"max_retries": 5}},
			{TechniqueID: "source_attribution", Config: map[string]any{"granularity": "sentence"}},
		},
	},
	"cost_optimized": {
		Name: "cost_optimized",
		Entries: []Entry{
			{TechniqueID: "vector_retrieval", Config: map[string]any{"top_k": 3}},
			{TechniqueID: "rag_generation", Config: map[string]any{"max_retries": 1}},
		},
	},
	"comprehensive": {
		Name: "comprehensive",
		Entries: []Entry{
			{TechniqueID: "query_rewriting"},
			{TechniqueID: "fusion_retrieval", Config: map[string]any{"num_variants": 4, "top_k": 24}},
			{TechniqueID: "reranking", Config: map[string]any{"top_n": 10}},
			{TechniqueID: "contextual_compression"},
			{TechniqueID: "cot_decomposition", Config: map[string]any{"max_sub_questions": 5}},
			{TechniqueID: "cot_synthesis"},
			{TechniqueID: "rag_generation", Config: map[string]any{"max_retries": 5}},
			{TechniqueID: "source_attribution", Config: map[string]any{"granularity": "paragraph"}},
		},
	},
}

// Resolve looks up a named preset.
func Resolve(name string) (Preset, bool) {
	p, ok := Presets[name]
	return p, ok
}
