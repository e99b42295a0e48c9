// Command server boots the ragcore API: it wires the storage, provider, and
// pipeline layers described across internal/* and serves them over HTTP
// behind gin, following the teacher's explicit-constructor style (no DI
// container) since WeKnora itself wires its services by hand in its
// cmd/server entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ragcore/ragcore/internal/blobstore/minio"
	"github.com/ragcore/ragcore/internal/collection"
	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/contextmgr"
	"github.com/ragcore/ragcore/internal/conversation"
	"github.com/ragcore/ragcore/internal/handler"
	"github.com/ragcore/ragcore/internal/ingestion"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/llm/ollama"
	"github.com/ragcore/ragcore/internal/llm/openai"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/scheduler"
	"github.com/ragcore/ragcore/internal/searchpipeline"
	"github.com/ragcore/ragcore/internal/store/postgres"
	"github.com/ragcore/ragcore/internal/store/redis"
	"github.com/ragcore/ragcore/internal/suggestion"
	"github.com/ragcore/ragcore/internal/technique"
	"github.com/ragcore/ragcore/internal/vectorstore/qdrant"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file (optional, env RAGCORE_* always applies)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: "info", JSON: true, Output: os.Stdout})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing()
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "tracing"})
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	pg, err := postgres.Open(postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "postgres"})
		os.Exit(1)
	}
	if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "postgres_migrate"})
		os.Exit(1)
	}

	rdb := redis.NewClient(redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})

	qdrantHost, qdrantPort, err := splitHostPort(cfg.Qdrant.Addr)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "qdrant_config"})
		os.Exit(1)
	}
	vectors, err := qdrant.NewStore(qdrant.Config{
		Host:   qdrantHost,
		Port:   qdrantPort,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "qdrant"})
		os.Exit(1)
	}

	minioCfg := minio.DefaultConfig()
	minioCfg.Endpoint = cfg.MinIO.Endpoint
	minioCfg.AccessKeyID = cfg.MinIO.AccessKeyID
	minioCfg.SecretAccessKey = cfg.MinIO.SecretAccessKey
	minioCfg.UseSSL = cfg.MinIO.UseSSL
	minioCfg.Bucket = cfg.MinIO.Bucket
	blobs, err := minio.NewClient(minioCfg)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "minio"})
		os.Exit(1)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "minio_bucket"})
		os.Exit(1)
	}

	chat, err := newChatModel(cfg.Chat)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "chat_provider"})
		os.Exit(1)
	}
	embedder, err := newEmbeddingModel(cfg.Embedding)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "embedding_provider"})
		os.Exit(1)
	}
	reranker, err := newReranker(cfg.Rerank)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "rerank_provider"})
		os.Exit(1)
	}

	embeddingResolver := newStaticEmbeddingResolver(embedder)

	ingestionWorker, err := ingestion.NewWorker(pg, blobs, vectors, embedder, ingestion.PlainTextParser{}, ingestion.Config{
		SafetyMarginTokens: cfg.Chunker.SafetyMarginTokens,
		BatchSize:          cfg.Chunker.BatchSize,
	})
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]interface{}{"component": "ingestion_worker"})
		os.Exit(1)
	}

	collections := collection.NewService(pg, vectors, embeddingResolver)

	ctxmgr := contextmgr.NewManager(rdb, rdb, embedder, chat, cfg.Session.ContextWindowTokens,
		contextmgr.WithRelevanceCacheTTL(cfg.Session.IdleExpiry))

	registry := technique.NewRegistry()
	registry.Register(technique.NewQueryRewrite(searchpipeline.EnhancementStage{Chat: chat}))
	registry.Register(technique.NewHyDE(searchpipeline.HyDEStage{Chat: chat}))
	retrievalStage := searchpipeline.RetrievalStage{
		Vectors:     vectors,
		Collections: pg,
		Embedders:   embeddingResolver,
		DefaultTopK: cfg.Search.DefaultTopK,
	}
	registry.Register(technique.NewVectorRetrieval(retrievalStage))
	registry.Register(technique.NewFusionRetrieval(searchpipeline.FusionRetrievalStage{
		Retrieval:   retrievalStage,
		Chat:        chat,
		NumVariants: 3,
	}))
	rerankStage := searchpipeline.RerankStage{Reranker: reranker, TopN: cfg.Search.DefaultRerankTopK}
	registry.Register(technique.NewCrossEncoderRerank(rerankStage))
	registry.Register(technique.NewContextualCompression(searchpipeline.CompressionStage{}))
	registry.Register(technique.NewMultiFacetedFiltering(searchpipeline.FilteringStage{}))
	registry.Register(technique.NewChainOfThought(searchpipeline.CoTStage{
		Chat:                    chat,
		Retrieval:               retrievalStage,
		Rerank:                  rerankStage,
		ComplexityWordThreshold: 20,
		MaxSubQuestions:         3,
	}))
	registry.Register(technique.NewCoTSynthesis(searchpipeline.CoTSynthesisStage{Chat: chat}))
	registry.Register(technique.NewRAGGeneration(searchpipeline.GenerationStage{
		Chat:       chat,
		MaxRetries: cfg.Search.GenerationRetries,
	}))
	registry.Register(technique.NewSourceAttribution(searchpipeline.AttributionStage{
		Granularity: "sentence",
		MinOverlap:  0.1,
	}))
	pipeline := technique.NewDynamicPipeline(registry, "default")

	conversations := conversation.NewService(pg, rdb, ctxmgr, pipeline, chat)
	suggestions := suggestion.NewService(chat, embedder, pg)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	sched := scheduler.New(redisOpt, rdb, scheduler.Config{
		Concurrency:    cfg.Scheduler.Concurrency,
		MaxRetry:       cfg.Scheduler.MaxRetry,
		BackoffBase:    cfg.Scheduler.BackoffBase,
		IdempotencyTTL: cfg.Scheduler.IdempotencyTTL,
	})
	scheduler.RegisterHandlers(sched, ingestionWorker, vectors, blobs, conversations)
	janitor := scheduler.NewJanitor(pg, cfg.Session.IdleExpiry, cfg.Session.JanitorSweepEvery)

	collectionHandler := handler.NewCollectionHandler(collections, pg, sched)
	documentHandler := handler.NewDocumentHandler(collections, pg, blobs, sched)
	conversationHandler := handler.NewConversationHandler(conversations, suggestions)
	systemHandler := handler.NewSystemHandler(cfg)

	router := buildRouter(cfg, collectionHandler, documentHandler, conversationHandler, systemHandler)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(gctx)
	})
	group.Go(func() error {
		janitor.Run(gctx)
		return nil
	})
	group.Go(func() error {
		logger.Infof(gctx, "listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.ErrorWithFields(context.Background(), err, map[string]interface{}{"component": "server"})
		os.Exit(1)
	}
}

func buildRouter(cfg *config.Config, collections *handler.CollectionHandler, documents *handler.DocumentHandler, conversations *handler.ConversationHandler, system *handler.SystemHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handler.CORSMiddleware(), handler.CorrelationIDMiddleware(), handler.RequestLogMiddleware(), handler.ErrorHandlerMiddleware())

	router.GET("/system/info", system.GetSystemInfo)

	api := router.Group("/api/v1")
	api.Use(handler.AuthMiddleware(handler.AuthConfig{SigningKey: []byte(cfg.HTTP.JWTSigningKey)}))

	api.POST("/collections", collections.CreateCollection)
	api.GET("/collections", collections.ListCollections)
	api.GET("/collections/:id", collections.GetCollection)
	api.PATCH("/collections/:id", collections.UpdateCollection)
	api.DELETE("/collections/:id", collections.DeleteCollection)

	api.POST("/collections/:id/documents", documents.UploadDocument)
	api.GET("/collections/:id/documents", documents.ListDocuments)
	api.GET("/documents/:id", documents.GetDocument)
	api.POST("/documents/:id/reprocess", documents.ReprocessDocument)
	api.DELETE("/documents/:id", documents.DeleteDocument)

	api.POST("/sessions", conversations.CreateSession)
	api.GET("/sessions", conversations.ListSessions)
	api.POST("/sessions/:id/turns", conversations.Turn)
	api.GET("/sessions/:id/export", conversations.ExportSession)
	api.POST("/sessions/:id/suggestions", conversations.Suggest)

	return router
}

// setupTracing installs a minimal SDK trace provider so internal/telemetry's
// otel.Tracer calls export somewhere rather than silently no-op against the
// global default. stdouttrace mirrors the teacher's preference for a
// zero-infrastructure exporter over requiring a collector to run this repo.
func setupTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// newChatModel, newEmbeddingModel, and newReranker each resolve a
// provider name (falling back to llm.DetectProvider against BaseURL when
// unset) and construct the matching adapter from internal/llm/{openai,ollama}.
func newChatModel(pc config.ProviderConfig) (llm.ChatModel, error) {
	name := resolveProvider(pc)
	cfg := llm.Config{BaseURL: pc.BaseURL, APIKey: pc.APIKey, ModelName: pc.ModelName}
	switch name {
	case llm.ProviderOllama:
		return ollama.NewChat(cfg)
	case llm.ProviderOpenAI:
		return openai.NewChat(cfg)
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", name)
	}
}

func newEmbeddingModel(pc config.ProviderConfig) (llm.EmbeddingModel, error) {
	name := resolveProvider(pc)
	cfg := llm.Config{BaseURL: pc.BaseURL, APIKey: pc.APIKey, ModelName: pc.ModelName}
	switch name {
	case llm.ProviderOllama:
		return ollama.NewEmbedder(cfg, pc.Dimensions)
	case llm.ProviderOpenAI:
		return openai.NewEmbedder(cfg, pc.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", name)
	}
}

func newReranker(pc config.ProviderConfig) (llm.Reranker, error) {
	if pc.BaseURL == "" && pc.ModelName == "" {
		return nil, nil
	}
	name := resolveProvider(pc)
	cfg := llm.Config{BaseURL: pc.BaseURL, APIKey: pc.APIKey, ModelName: pc.ModelName}
	switch name {
	case llm.ProviderOpenAI:
		return openai.NewReranker(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported rerank provider %q", name)
	}
}

func resolveProvider(pc config.ProviderConfig) llm.ProviderName {
	if pc.Provider != "" {
		return llm.ProviderName(pc.Provider)
	}
	return llm.DetectProvider(pc.BaseURL)
}

// staticEmbeddingResolver serves the single configured embedding model
// under both its own model name and the empty-string handle, so a
// collection created without an explicit embedding_model still resolves
// against the process-wide default.
type staticEmbeddingResolver struct {
	model llm.EmbeddingModel
}

func newStaticEmbeddingResolver(model llm.EmbeddingModel) *staticEmbeddingResolver {
	return &staticEmbeddingResolver{model: model}
}

func (r *staticEmbeddingResolver) Resolve(modelID string) (llm.EmbeddingModel, bool) {
	if r.model == nil {
		return nil, false
	}
	if modelID == "" || modelID == r.model.ModelName() {
		return r.model, true
	}
	return nil, false
}

// splitHostPort parses a "host:port" address into qdrant.Config's split
// Host/Port fields.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := splitAddr(addr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing qdrant address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing qdrant port in %q: %w", addr, err)
	}
	return host, port, nil
}

func splitAddr(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port")
	}
	return addr[:idx], addr[idx+1:], nil
}
