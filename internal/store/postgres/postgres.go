// Package postgres implements the metadata store on gorm.io/gorm against
// PostgreSQL, the teacher's persistence stack (gorm + pgx driver). Vector
// bodies live in internal/vectorstore; this package owns only the relational
// rows: collections, document/chunk existence rows, sessions, messages,
// summaries, and per-user defaults.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/domain"
)

// Config dials the metadata database.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the gorm-backed metadata repository.
type Store struct {
	db *gorm.DB
}

// Open dials PostgreSQL and configures the connection pool.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("postgres connection failed", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("postgres pool init failed", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{db: db}, nil
}

// AutoMigrate creates/updates the schema for development use. Production
// deployments should prefer the golang-migrate migrations in ./migrations.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&domain.Collection{},
		&domain.Document{},
		&domain.Chunk{},
		&domain.ConversationSession{},
		&domain.ConversationMessage{},
		&domain.ConversationSummary{},
		&domain.UserDefaults{},
	)
}

func (s *Store) withContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// --- Collections -----------------------------------------------------------

func (s *Store) CreateCollection(ctx context.Context, c *domain.Collection) error {
	if err := s.withContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.DuplicateName(c.Name)
		}
		return apperrors.NewInternalServerError("creating collection: " + err.Error())
	}
	return nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (*domain.Collection, error) {
	var c domain.Collection
	err := s.withContext(ctx).Where("id = ? AND status <> ?", id, domain.CollectionStatusDeleted).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("collection not found: " + id)
	}
	if err != nil {
		return nil, apperrors.NewInternalServerError("fetching collection: " + err.Error())
	}
	return &c, nil
}

func (s *Store) ListCollections(ctx context.Context, ownerID string) ([]*domain.Collection, error) {
	var cs []*domain.Collection
	err := s.withContext(ctx).
		Where("owner_id = ? AND status <> ?", ownerID, domain.CollectionStatusDeleted).
		Order("created_at desc").
		Find(&cs).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing collections: " + err.Error())
	}
	return cs, nil
}

// ListVisibleCollections returns every collection owned by ownerID plus
// every public collection owned by someone else, matching the "requester
// may see public or owned" visibility rule (§4.2).
func (s *Store) ListVisibleCollections(ctx context.Context, ownerID string) ([]*domain.Collection, error) {
	var cs []*domain.Collection
	err := s.withContext(ctx).
		Where("status <> ?", domain.CollectionStatusDeleted).
		Where("owner_id = ? OR privacy = ?", ownerID, domain.PrivacyPublic).
		Order("created_at desc").
		Find(&cs).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing visible collections: " + err.Error())
	}
	return cs, nil
}

func (s *Store) UpdateCollection(ctx context.Context, c *domain.Collection) error {
	res := s.withContext(ctx).Model(&domain.Collection{}).Where("id = ?", c.ID).Updates(c)
	if res.Error != nil {
		return apperrors.NewInternalServerError("updating collection: " + res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFoundError("collection not found: " + c.ID)
	}
	return nil
}

// SoftDeleteCollection marks a collection deleted without reclaiming its
// vector namespace name, honoring the "never reused" invariant (§3).
func (s *Store) SoftDeleteCollection(ctx context.Context, id string) error {
	res := s.withContext(ctx).Model(&domain.Collection{}).
		Where("id = ?", id).
		Update("status", domain.CollectionStatusDeleted)
	if res.Error != nil {
		return apperrors.NewInternalServerError("deleting collection: " + res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFoundError("collection not found: " + id)
	}
	return nil
}

// --- Documents ---------------------------------------------------------------

func (s *Store) CreateDocument(ctx context.Context, d *domain.Document) error {
	if err := s.withContext(ctx).Create(d).Error; err != nil {
		return apperrors.NewInternalServerError("creating document: " + err.Error())
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	err := s.withContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("document not found: " + id)
	}
	if err != nil {
		return nil, apperrors.NewInternalServerError("fetching document: " + err.Error())
	}
	return &d, nil
}

func (s *Store) ListDocuments(ctx context.Context, collectionID string) ([]*domain.Document, error) {
	var ds []*domain.Document
	err := s.withContext(ctx).Where("collection_id = ?", collectionID).Order("uploaded_at desc").Find(&ds).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing documents: " + err.Error())
	}
	return ds, nil
}

// TransitionDocument atomically moves a document to next status, enforcing
// the ingestion state machine's legality rules, and records the processing
// error when transitioning to failed.
func (s *Store) TransitionDocument(ctx context.Context, id string, next domain.DocumentStatus, processingError *string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var d domain.Document
		if err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", id).First(&d).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFoundError("document not found: " + id)
			}
			return apperrors.NewInternalServerError("locking document: " + err.Error())
		}
		if !d.CanTransition(next) {
			return apperrors.NewConflictError(fmt.Sprintf("illegal document transition %s -> %s", d.Status, next))
		}
		updates := map[string]interface{}{"status": next}
		if processingError != nil {
			updates["processing_error"] = *processingError
		}
		if next == domain.DocumentStatusIndexed {
			updates["processed_at"] = time.Now()
		}
		if err := tx.Model(&domain.Document{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return apperrors.NewInternalServerError("updating document status: " + err.Error())
		}
		return nil
	})
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res := s.withContext(ctx).Where("id = ?", id).Delete(&domain.Document{})
	if res.Error != nil {
		return apperrors.NewInternalServerError("deleting document: " + res.Error.Error())
	}
	return nil
}

// --- Chunks (existence rows) ------------------------------------------------

// ReplaceChunks atomically deletes all existing chunk rows for a document
// and writes the new set, mirroring the vector-namespace-level atomicity
// required of reprocessing (§3, §7).
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("document_id = ?", documentID).Delete(&domain.Chunk{}).Error; err != nil {
			return apperrors.NewInternalServerError("clearing old chunks: " + err.Error())
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.WithContext(ctx).CreateInBatches(chunks, 200).Error; err != nil {
			return apperrors.NewInternalServerError("writing chunks: " + err.Error())
		}
		return nil
	})
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	var cs []*domain.Chunk
	err := s.withContext(ctx).Where("document_id = ?", documentID).Order("ordinal asc").Find(&cs).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing chunks: " + err.Error())
	}
	return cs, nil
}

// SampleChunkText returns up to n chunk bodies drawn from a collection's
// documents, feeding internal/suggestion's follow-up question generator a
// sample of real content instead of requiring it to walk every document.
func (s *Store) SampleChunkText(ctx context.Context, collectionID string, n int) ([]string, error) {
	var texts []string
	err := s.withContext(ctx).
		Model(&domain.Chunk{}).
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Where("documents.collection_id = ?", collectionID).
		Order("RANDOM()").
		Limit(n).
		Pluck("chunks.text", &texts).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("sampling chunk text: " + err.Error())
	}
	return texts, nil
}

// --- Conversation sessions ---------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *domain.ConversationSession) error {
	if err := s.withContext(ctx).Create(sess).Error; err != nil {
		return apperrors.NewInternalServerError("creating session: " + err.Error())
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.ConversationSession, error) {
	var sess domain.ConversationSession
	err := s.withContext(ctx).Where("id = ? AND status <> ?", id, domain.SessionStatusDeleted).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("session not found: " + id)
	}
	if err != nil {
		return nil, apperrors.NewInternalServerError("fetching session: " + err.Error())
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]*domain.ConversationSession, error) {
	var sessions []*domain.ConversationSession
	err := s.withContext(ctx).
		Where("owner_id = ? AND status <> ?", ownerID, domain.SessionStatusDeleted).
		Order("last_active_at desc").
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing sessions: " + err.Error())
	}
	return sessions, nil
}

// ListExpirableSessions returns every active session whose LastActiveAt is
// older than idleSince, across all owners. Backs the janitor's session
// expiry sweep (§4.8 Open Question: expiry rides the scheduler's existing
// read-then-transition idiom rather than becoming a new job kind).
func (s *Store) ListExpirableSessions(ctx context.Context, idleSince time.Time) ([]*domain.ConversationSession, error) {
	var sessions []*domain.ConversationSession
	err := s.withContext(ctx).
		Where("status = ? AND last_active_at < ?", domain.SessionStatusActive, idleSince).
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing expirable sessions: " + err.Error())
	}
	return sessions, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *domain.ConversationSession) error {
	res := s.withContext(ctx).Model(&domain.ConversationSession{}).Where("id = ?", sess.ID).Updates(sess)
	if res.Error != nil {
		return apperrors.NewInternalServerError("updating session: " + res.Error.Error())
	}
	return nil
}

// MarkCollectionGone tombstones every session bound to a deleted collection,
// keeping them readable but no longer writable (§3).
func (s *Store) MarkCollectionGone(ctx context.Context, collectionID string) error {
	err := s.withContext(ctx).Model(&domain.ConversationSession{}).
		Where("collection_id = ?", collectionID).
		Update("collection_gone", true).Error
	if err != nil {
		return apperrors.NewInternalServerError("tombstoning sessions: " + err.Error())
	}
	return nil
}

// --- Conversation messages ----------------------------------------------------

// AppendMessage writes the next message for a session inside a row lock on
// the session, so concurrent turns on the same session serialize rather than
// interleave ordinals (§5 concurrency model).
func (s *Store) AppendMessage(ctx context.Context, msg *domain.ConversationMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var sess domain.ConversationSession
		if err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", msg.SessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFoundError("session not found: " + msg.SessionID)
			}
			return apperrors.NewInternalServerError("locking session: " + err.Error())
		}
		if !sess.IsWritable() {
			return apperrors.SessionBusy(msg.SessionID)
		}
		var maxOrdinal int
		tx.Model(&domain.ConversationMessage{}).Where("session_id = ?", msg.SessionID).
			Select("COALESCE(MAX(ordinal), 0)").Scan(&maxOrdinal)
		msg.Ordinal = maxOrdinal + 1

		if err := tx.WithContext(ctx).Create(msg).Error; err != nil {
			return apperrors.NewInternalServerError("appending message: " + err.Error())
		}
		if err := tx.Model(&domain.ConversationSession{}).Where("id = ?", msg.SessionID).
			Updates(map[string]interface{}{
				"message_count":  gorm.Expr("message_count + 1"),
				"tokens_used":    gorm.Expr("tokens_used + ?", msg.Tokens),
				"last_active_at": time.Now(),
			}).Error; err != nil {
			return apperrors.NewInternalServerError("updating session counters: " + err.Error())
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationMessage, error) {
	var msgs []*domain.ConversationMessage
	q := s.withContext(ctx).Where("session_id = ?", sessionID).Order("ordinal desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, apperrors.NewInternalServerError("listing messages: " + err.Error())
	}
	// reverse to ascending ordinal order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// --- Conversation summaries ---------------------------------------------------

// CreateSummary writes a new summary and deletes any prior summary it
// subsumes, per the "never overlap contiguously" invariant (§3).
func (s *Store) CreateSummary(ctx context.Context, sum *domain.ConversationSummary) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing []*domain.ConversationSummary
		if err := tx.WithContext(ctx).Where("session_id = ? AND strategy = ?", sum.SessionID, sum.Strategy).Find(&existing).Error; err != nil {
			return apperrors.NewInternalServerError("loading existing summaries: " + err.Error())
		}
		if err := tx.WithContext(ctx).Create(sum).Error; err != nil {
			return apperrors.NewInternalServerError("creating summary: " + err.Error())
		}
		for _, old := range existing {
			if sum.Subsumes(old) {
				if err := tx.Delete(old).Error; err != nil {
					return apperrors.NewInternalServerError("pruning subsumed summary: " + err.Error())
				}
			}
		}
		return nil
	})
}

func (s *Store) ListSummaries(ctx context.Context, sessionID string) ([]*domain.ConversationSummary, error) {
	var sums []*domain.ConversationSummary
	err := s.withContext(ctx).Where("session_id = ?", sessionID).Order("first_ordinal asc").Find(&sums).Error
	if err != nil {
		return nil, apperrors.NewInternalServerError("listing summaries: " + err.Error())
	}
	return sums, nil
}

// --- User defaults -------------------------------------------------------------

// GetOrInitUserDefaults returns a user's default LLM/prompt/pipeline
// settings, lazily creating them on first access per §4.7.
func (s *Store) GetOrInitUserDefaults(ctx context.Context, userID string, seed *domain.UserDefaults) (*domain.UserDefaults, error) {
	var ud domain.UserDefaults
	err := s.withContext(ctx).Where("user_id = ?", userID).First(&ud).Error
	if err == nil {
		return &ud, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewInternalServerError("fetching user defaults: " + err.Error())
	}
	seed.UserID = userID
	if err := s.withContext(ctx).Clauses(onConflictDoNothing()).Create(seed).Error; err != nil {
		return nil, apperrors.NewInternalServerError("initializing user defaults: " + err.Error())
	}
	if err := s.withContext(ctx).Where("user_id = ?", userID).First(&ud).Error; err != nil {
		return nil, apperrors.NewInternalServerError("re-fetching user defaults: " + err.Error())
	}
	return &ud, nil
}

func (s *Store) UpdateUserDefaults(ctx context.Context, ud *domain.UserDefaults) error {
	res := s.withContext(ctx).Model(&domain.UserDefaults{}).Where("user_id = ?", ud.UserID).Updates(ud)
	if res.Error != nil {
		return apperrors.NewInternalServerError("updating user defaults: " + res.Error.Error())
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
