package llm

import (
	"net/url"
	"strings"
	"sync"
)

// ModelType distinguishes the capability a provider is configured for,
// mirroring the teacher's per-capability provider/model split (chat vs.
// embedding vs. rerank) without pulling in its full types package.
type ModelType string

const (
	ModelTypeChat      ModelType = "chat"
	ModelTypeEmbedding ModelType = "embedding"
	ModelTypeRerank    ModelType = "rerank"
)

// ProviderName identifies a registered backend.
type ProviderName string

const (
	ProviderOpenAI  ProviderName = "openai"
	ProviderOllama  ProviderName = "ollama"
	ProviderGeneric ProviderName = "generic"
)

// ProviderInfo is the static metadata a provider publishes about itself.
type ProviderInfo struct {
	Name         ProviderName
	DisplayName  string
	Description  string
	DefaultURLs  map[ModelType]string
	ModelTypes   []ModelType
	RequiresAuth bool
}

// Config is the per-deployment configuration a provider validates before
// an adapter is constructed from it, frozen at request entry per the
// configuration-snapshot policy.
type Config struct {
	BaseURL   string
	APIKey    string
	ModelName string
}

// Provider describes a backend capable of serving one or more ModelTypes
// under an OpenAI-compatible or native API. Concrete adapters (llm/openai,
// llm/ollama) construct ChatModel/EmbeddingModel/Reranker values; Provider
// itself only validates configuration and advertises capabilities, the way
// the teacher's provider package separates "which vendor" from "which
// model instance".
type Provider interface {
	Info() ProviderInfo
	ValidateConfig(cfg *Config) error
}

var (
	registryMu sync.RWMutex
	registry   = map[ProviderName]Provider{}
)

// Register adds a provider to the package-level registry. Providers
// register themselves from an init() in their defining file, matching the
// teacher's self-registration idiom.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Info().Name] = p
}

// Get looks up a provider by name.
func Get(name ProviderName) (Provider, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// GetOrDefault returns the named provider, falling back to ProviderGeneric
// when name is unregistered.
func GetOrDefault(name ProviderName) Provider {
	if p, ok := Get(name); ok {
		return p
	}
	p, _ := Get(ProviderGeneric)
	return p
}

// List returns every registered provider in no particular order.
func List() []Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Provider, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	return out
}

// ListByModelType returns every registered provider that advertises
// support for modelType.
func ListByModelType(modelType ModelType) []Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Provider, 0)
	for _, p := range registry {
		for _, mt := range p.Info().ModelTypes {
			if mt == modelType {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// DetectProvider infers a ProviderName from a base URL's host, falling
// back to ProviderGeneric for anything unrecognized (self-hosted,
// OpenAI-compatible gateways, and so on).
func DetectProvider(baseURL string) ProviderName {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ProviderGeneric
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case strings.Contains(host, "api.openai.com"):
		return ProviderOpenAI
	case host == "localhost" || host == "127.0.0.1" || strings.Contains(host, "ollama"):
		return ProviderOllama
	default:
		return ProviderGeneric
	}
}
