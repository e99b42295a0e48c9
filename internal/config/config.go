// Package config loads layered (env + yaml) process configuration via
// spf13/viper, the teacher's configuration dependency.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration snapshot for the service.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Search    SearchConfig    `mapstructure:"search"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Session   SessionConfig   `mapstructure:"session"`
	Chat      ProviderConfig  `mapstructure:"chat"`
	Embedding ProviderConfig  `mapstructure:"embedding"`
	Rerank    ProviderConfig  `mapstructure:"rerank"`

	// VectorDatabase mirrors the teacher's system-info handler, exposing
	// the configured vector store driver name for introspection.
	VectorDatabase *VectorDatabaseConfig `mapstructure:"vector_database"`
}

// HTTPConfig controls the gin server and its auth stub.
type HTTPConfig struct {
	Addr          string `mapstructure:"addr"`
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
}

// ProviderConfig configures one llm.Config-backed capability (chat,
// embedding, or rerank). Provider selects the registered adapter
// (openai/ollama); an empty Provider is resolved via llm.DetectProvider
// against BaseURL.
type ProviderConfig struct {
	Provider   string `mapstructure:"provider"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	ModelName  string `mapstructure:"model_name"`
	Dimensions int    `mapstructure:"dimensions"`
}

// SessionConfig seeds domain.SessionConfig for newly created sessions and
// governs the janitor's idle-expiry sweep (§4.6, §4.8).
type SessionConfig struct {
	ContextWindowTokens int           `mapstructure:"context_window_tokens"`
	MaxMessages         int           `mapstructure:"max_messages"`
	IdleExpiry          time.Duration `mapstructure:"idle_expiry"`
	JanitorSweepEvery   time.Duration `mapstructure:"janitor_sweep_every"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QdrantConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
}

// ChunkerConfig governs chunk sizing (§4.3). SafetyMarginTokens is the
// non-negotiable reserve below the embedding model's hard token limit;
// a value that leaves zero safety room must be rejected (§9 open question).
type ChunkerConfig struct {
	DefaultChunkSizeTokens int `mapstructure:"default_chunk_size_tokens"`
	DefaultOverlapTokens   int `mapstructure:"default_overlap_tokens"`
	SafetyMarginTokens     int `mapstructure:"safety_margin_tokens"`
	BatchSize              int `mapstructure:"batch_size"`
}

// Validate enforces the "never zero safety room" invariant from §9.
func (c ChunkerConfig) Validate() error {
	if c.SafetyMarginTokens <= 0 {
		return fmt.Errorf("chunker safety margin must leave positive safety room, got %d", c.SafetyMarginTokens)
	}
	if c.DefaultChunkSizeTokens <= 0 {
		return fmt.Errorf("chunker chunk size must be positive")
	}
	if c.DefaultOverlapTokens < 0 || c.DefaultOverlapTokens >= c.DefaultChunkSizeTokens {
		return fmt.Errorf("chunker overlap must be within [0, chunk_size)")
	}
	return nil
}

type SearchConfig struct {
	DefaultTopK         int           `mapstructure:"default_top_k"`
	DefaultRerankTopK   int           `mapstructure:"default_rerank_top_k"`
	DefaultDeadline     time.Duration `mapstructure:"default_deadline"`
	GenerationRetries   int           `mapstructure:"generation_retries"`
	ProviderCallTimeout time.Duration `mapstructure:"provider_call_timeout"`
}

type SchedulerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxRetry       int           `mapstructure:"max_retry"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type VectorDatabaseConfig struct {
	Driver string `mapstructure:"driver"`
}

// Load reads configuration from a yaml file (optional) layered under
// environment variables prefixed RAGCORE_, matching viper's standard idiom.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RAGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Chunker.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chunker.default_chunk_size_tokens", 512)
	v.SetDefault("chunker.default_overlap_tokens", 64)
	v.SetDefault("chunker.safety_margin_tokens", 64)
	v.SetDefault("chunker.batch_size", 32)

	v.SetDefault("search.default_top_k", 10)
	v.SetDefault("search.default_rerank_top_k", 5)
	v.SetDefault("search.default_deadline", 30*time.Second)
	v.SetDefault("search.generation_retries", 2)
	v.SetDefault("search.provider_call_timeout", 15*time.Second)

	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.max_retry", 5)
	v.SetDefault("scheduler.backoff_base", 500*time.Millisecond)
	v.SetDefault("scheduler.idempotency_ttl", 24*time.Hour)

	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("session.context_window_tokens", 8000)
	v.SetDefault("session.max_messages", 50)
	v.SetDefault("session.idle_expiry", 24*time.Hour)
	v.SetDefault("session.janitor_sweep_every", time.Hour)

	v.SetDefault("embedding.dimensions", 1536)
}
