// Package scheduler implements the shared worker pool (§4.8): a job queue
// consumed by a pool of workers, idempotency keys that make re-enqueueing a
// no-op, and exponential backoff with jitter on retry. Grounded on the
// teacher's own dependency, github.com/hibiken/asynq, and on
// internal/types/interfaces/task_handler.go (kept, adapted) for the
// "one Handle(ctx, *asynq.Task) error per job kind" shape.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ragcore/ragcore/internal/logger"
)

// Job kinds (§4.8). Each has exactly one handler and one idempotency-key
// derivation; the scheduler is the only writer of the owning entity's
// status field for its job kind.
const (
	KindIngestDocument       = "ingest_document"
	KindReprocessDocument    = "reprocess_document"
	KindDeleteCollectionData = "delete_collection_data"
	KindSummarizeSession     = "summarize_session"
	KindRebuildEntities      = "rebuild_entities"
)

const (
	queueDefault = "default"
	queueLow     = "low"
)

// IdempotencyStore is the subset of redis.Client the scheduler needs to make
// re-enqueueing a completed or in-flight job a no-op.
type IdempotencyStore interface {
	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// Config controls worker pool concurrency, retry policy, and idempotency
// key lifetime.
type Config struct {
	Concurrency    int
	MaxRetry       int
	BackoffBase    time.Duration
	IdempotencyTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	return c
}

// Scheduler owns the asynq client (enqueue side) and server (worker-pool
// side), plus the idempotency gate every Enqueue call passes through.
type Scheduler struct {
	client      *asynq.Client
	server      *asynq.Server
	mux         *asynq.ServeMux
	idempotency IdempotencyStore
	cfg         Config
}

// New wires an asynq client/server pair against redisOpt, with the worker
// pool's concurrency and retry behavior governed by cfg.
func New(redisOpt asynq.RedisConnOpt, idempotency IdempotencyStore, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			queueDefault: 6,
			queueLow:     1,
		},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return exponentialBackoffWithJitter(cfg.BackoffBase, n)
		},
	})
	return &Scheduler{
		client:      asynq.NewClient(redisOpt),
		server:      server,
		mux:         asynq.NewServeMux(),
		idempotency: idempotency,
		cfg:         cfg,
	}
}

// exponentialBackoffWithJitter matches §4.8's "exponential with jitter":
// base * 2^n, shifted by a random offset of up to +/-10% so a burst of
// same-kind failures doesn't retry in lockstep.
func exponentialBackoffWithJitter(base time.Duration, attempt int) time.Duration {
	backoff := base << attempt
	spread := int64(backoff) / 5
	if spread <= 0 {
		return backoff
	}
	return backoff + time.Duration(rand.Int64N(spread)) - time.Duration(spread/2)
}

// Handler matches the teacher's TaskHandler shape, adapted to receive the
// task's raw payload bytes instead of the *asynq.Task; each handler decodes
// its own payload type.
type Handler func(ctx context.Context, payload []byte) error

// Register wires a handler for a job kind onto the mux.
func (s *Scheduler) Register(kind string, h Handler) {
	s.mux.HandleFunc(kind, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

// Enqueue submits a job under kind with the given idempotency key. If the
// key is already reserved (an identical job is in flight or recently
// completed), Enqueue is a no-op and returns (false, nil).
func (s *Scheduler) Enqueue(ctx context.Context, kind, idempotencyKey string, payload interface{}, queue string) (bool, error) {
	reserved, err := s.idempotency.ReserveIdempotencyKey(ctx, idempotencyKey, s.cfg.IdempotencyTTL)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reserved {
		return false, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		_ = s.idempotency.ReleaseIdempotencyKey(ctx, idempotencyKey)
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	if queue == "" {
		queue = queueDefault
	}
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(kind, body),
		asynq.Queue(queue),
		asynq.MaxRetry(s.cfg.MaxRetry),
		asynq.TaskID(idempotencyKey),
	)
	if err != nil {
		_ = s.idempotency.ReleaseIdempotencyKey(ctx, idempotencyKey)
		return false, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return true, nil
}

// Run starts the worker pool and blocks until ctx is cancelled, at which
// point it waits for in-flight jobs to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	<-ctx.Done()
	logger.Info(ctx, "scheduler: shutting down worker pool")
	s.server.Shutdown()
	s.client.Close()
	return nil
}
