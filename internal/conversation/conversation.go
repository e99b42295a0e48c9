// Package conversation implements the session/message/summary service
// (§4.6): appending a turn, invoking the search pipeline with
// context-manager augmentation, post-turn maintenance (entity tracking,
// summarization trigger, auto-naming), and read-only export. Grounded on
// chat_pipline/load_history.go's turn-shaping idiom and the teacher's
// session-scoped locking convention, generalized from an in-process plugin
// chain to an explicit service method around internal/searchpipeline and
// internal/contextmgr.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/contextmgr"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/idgen"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logger"
	"github.com/ragcore/ragcore/internal/prompt"
	"github.com/ragcore/ragcore/internal/utils"
)

// DefaultSessionName is the placeholder a session carries until auto-naming
// replaces it after the first completed turn (§4.6).
const DefaultSessionName = "New conversation"

// defaultSummaryStrategy names the single summarization strategy this
// service writes; ConversationSummary.Subsumes compares strategies so a
// future second strategy (e.g. a cheaper one for archived sessions) can
// coexist without clobbering this one's history.
const defaultSummaryStrategy = "rolling"

// Store is the subset of postgres.Store the conversation service depends
// on.
type Store interface {
	CreateSession(ctx context.Context, sess *domain.ConversationSession) error
	GetSession(ctx context.Context, id string) (*domain.ConversationSession, error)
	ListSessions(ctx context.Context, ownerID string) ([]*domain.ConversationSession, error)
	UpdateSession(ctx context.Context, sess *domain.ConversationSession) error
	AppendMessage(ctx context.Context, msg *domain.ConversationMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationMessage, error)
	CreateSummary(ctx context.Context, sum *domain.ConversationSummary) error
	ListSummaries(ctx context.Context, sessionID string) ([]*domain.ConversationSummary, error)
	GetOrInitUserDefaults(ctx context.Context, userID string, seed *domain.UserDefaults) (*domain.UserDefaults, error)
}

// SessionLocker serializes concurrent turns on the same session (§5).
type SessionLocker interface {
	AcquireSessionLock(ctx context.Context, sessionID string, ttl, wait time.Duration) (func(context.Context) error, error)
}

// ContextBuilder is the subset of *contextmgr.Manager the service depends
// on for per-turn context assembly and post-turn bookkeeping.
type ContextBuilder interface {
	BuildContext(ctx context.Context, sessionID, question string, messages []*domain.ConversationMessage, summaries []*domain.ConversationSummary, tokenBudget int) (*contextmgr.Bundle, error)
	UpdateEntities(ctx context.Context, sessionID string, ordinal int, text string) error
	ShouldSummarize(unsummarizedTokens int, threshold int) bool
	RebuildEntityTracker(ctx context.Context, sessionID string, messages []*domain.ConversationMessage) error
}

// SearchPipeline runs the configured technique chain for one question.
type SearchPipeline interface {
	Run(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error)
}

// Service implements the conversation turn lifecycle.
type Service struct {
	store    Store
	locker   SessionLocker
	ctxmgr   ContextBuilder
	pipeline SearchPipeline
	chat     llm.ChatModel // used for auto-naming and summarization

	lockTTL  time.Duration
	lockWait time.Duration
}

func NewService(store Store, locker SessionLocker, ctxmgr ContextBuilder, pipeline SearchPipeline, chat llm.ChatModel) *Service {
	return &Service{
		store:    store,
		locker:   locker,
		ctxmgr:   ctxmgr,
		pipeline: pipeline,
		chat:     chat,
		lockTTL:  30 * time.Second,
		lockWait: 5 * time.Second,
	}
}

// CreateSession allocates a new session bound to a collection.
func (s *Service) CreateSession(ctx context.Context, ownerID, collectionID string, cfg domain.SessionConfig) (*domain.ConversationSession, error) {
	sess := &domain.ConversationSession{
		ID:           idgen.New(),
		OwnerID:      ownerID,
		CollectionID: collectionID,
		DisplayName:  DefaultSessionName,
		Status:       domain.SessionStatusActive,
		Config:       cfg,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Session  *domain.ConversationSession
	Question *domain.ConversationMessage
	Answer   *domain.ConversationMessage
	Search   *domain.SearchContext
}

// Turn executes one full conversation turn (§4.6 steps 1-5): append the
// user message, build bounded context, run the search pipeline, append the
// assistant message, then perform post-turn maintenance. overrides carries
// the request's per-turn adjustments (§6); its zero value runs the caller's
// persisted defaults unchanged.
func (s *Service) Turn(ctx context.Context, sessionID, question string, overrides domain.RequestOverrides) (*TurnResult, error) {
	if overrides.PresetName != "" && len(overrides.Techniques) > 0 {
		return nil, apperrors.InvalidPipeline("preset_name and techniques are mutually exclusive overrides")
	}
	if len(overrides.Techniques) > 0 {
		logger.Infof(ctx, "turn %s requested explicit technique list: %v", sessionID, utils.SanitizeForLogArray(overrides.Techniques))
	}

	if overrides.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, overrides.Deadline)
		defer cancel()
	}

	release, err := s.locker.AcquireSessionLock(ctx, sessionID, s.lockTTL, s.lockWait)
	if err != nil {
		return nil, apperrors.SessionBusy(sessionID)
	}
	defer release(ctx)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsWritable() {
		if sess.CollectionGone {
			return nil, apperrors.CollectionDeleted(sess.CollectionID)
		}
		return nil, apperrors.SessionBusy(sessionID)
	}

	userMsg := &domain.ConversationMessage{
		ID:        idgen.New(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Type:      domain.MessageTypeQuestion,
		Content:   question,
		Tokens:    estimateTokens(question),
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	defaults, err := s.store.GetOrInitUserDefaults(ctx, sess.OwnerID, domain.NewDefaultUserDefaults())
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, sessionID, sess.Config.MaxMessages)
	if err != nil {
		return nil, err
	}
	summaries, err := s.store.ListSummaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	bundle, err := s.ctxmgr.BuildContext(ctx, sessionID, question, history, summaries, sess.Config.ContextWindowTokens)
	if err != nil {
		return nil, err
	}

	sc := domain.NewSearchContext(sess.OwnerID, sess.CollectionID, sessionID, question)
	sc.History = bundleToTurns(bundle)
	sc.Entities = entityNames(bundle)
	sc.ConfigSnapshot = defaults.Pipeline
	sc.LLMSnapshot = defaults.LLM
	sc.PromptSnapshot = defaults.Prompts
	sc.Overrides = overrides
	if overrides.Temperature != nil {
		sc.LLMSnapshot.Temperature = *overrides.Temperature
	}
	if overrides.MaxNewTokens != nil {
		sc.LLMSnapshot.MaxNewTokens = *overrides.MaxNewTokens
	}

	sc, err = s.pipeline.Run(ctx, sc)
	if err != nil {
		return nil, err
	}

	answerMsg := &domain.ConversationMessage{
		ID:        idgen.New(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Type:      domain.MessageTypeAnswer,
		Content:   sc.Answer,
		Tokens:    estimateTokens(sc.Answer),
		Metadata:  domain.MessageMetadata{Sources: sourceKeys(sc.Sources)},
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendMessage(ctx, answerMsg); err != nil {
		return nil, err
	}

	s.postTurnMaintenance(ctx, sess, defaults, userMsg, answerMsg)

	return &TurnResult{Session: sess, Question: userMsg, Answer: answerMsg, Search: sc}, nil
}

// postTurnMaintenance runs step 5 of §4.6: entity tracking, summarization
// trigger, and auto-naming. Failures here never fail the turn — the answer
// has already been delivered.
func (s *Service) postTurnMaintenance(ctx context.Context, sess *domain.ConversationSession, defaults *domain.UserDefaults, userMsg, answerMsg *domain.ConversationMessage) {
	_ = s.ctxmgr.UpdateEntities(ctx, sess.ID, userMsg.Ordinal, userMsg.Content+" "+answerMsg.Content)

	if sess.DisplayName == DefaultSessionName && userMsg.Ordinal == 1 {
		s.autoName(ctx, sess, defaults, userMsg.Content, answerMsg.Content)
	}

	unsummarizedTokens := sess.TokensUsed
	if s.ctxmgr.ShouldSummarize(unsummarizedTokens, sess.Config.ContextWindowTokens/2) {
		s.summarize(ctx, sess)
	}
}

func (s *Service) autoName(ctx context.Context, sess *domain.ConversationSession, defaults *domain.UserDefaults, question, answer string) {
	if s.chat == nil {
		return
	}
	messages := prompt.BuildNamingPrompt(defaults.Prompts, question, answer)
	result, err := s.chat.Chat(ctx, messages, llm.ChatOptions{Temperature: 0.3, MaxNewTokens: 24})
	if err != nil {
		return
	}
	name := strings.Trim(strings.TrimSpace(result.Content), "\"")
	if name == "" {
		return
	}
	sess.DisplayName = name
	_ = s.store.UpdateSession(ctx, sess)
}

// GetSession returns a session by ID for callers that need to check
// ownership before acting on it (the HTTP boundary, ahead of Turn/Export).
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ForceSummarize runs the summarization step outside the normal post-turn
// path. Backs the scheduler's summarize_session job (§4.8), which lets a
// session catch up on summarization without waiting for its next turn (for
// example, right before archiving a long-idle session).
func (s *Service) ForceSummarize(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.summarize(ctx, sess)
	return nil
}

// RebuildEntities backs the scheduler's rebuild_entities job (§4.8):
// recomputes the session's tracked-entity set from scratch against the full
// message history, replacing whatever drifted or was lost.
func (s *Service) RebuildEntities(ctx context.Context, sessionID string) error {
	messages, err := s.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	return s.ctxmgr.RebuildEntityTracker(ctx, sessionID, messages)
}

func (s *Service) summarize(ctx context.Context, sess *domain.ConversationSession) {
	if s.chat == nil {
		return
	}
	messages, err := s.store.ListMessages(ctx, sess.ID, 0)
	if err != nil || len(messages) == 0 {
		return
	}
	existing, err := s.store.ListSummaries(ctx, sess.ID)
	if err != nil {
		return
	}
	_, unsummarized := splitByLatestSummary(messages, existing)
	if len(unsummarized) == 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range unsummarized {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	result, err := s.chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Summarize this conversation excerpt in a few sentences, preserving facts and entities a later turn might need."},
		{Role: "user", Content: transcript.String()},
	}, llm.ChatOptions{Temperature: 0.2, MaxNewTokens: 256})
	if err != nil {
		return
	}

	tokensSaved := 0
	for _, m := range unsummarized {
		tokensSaved += m.Tokens
	}
	summary := &domain.ConversationSummary{
		ID:           idgen.New(),
		SessionID:    sess.ID,
		Strategy:     defaultSummaryStrategy,
		FirstOrdinal: unsummarized[0].Ordinal,
		LastOrdinal:  unsummarized[len(unsummarized)-1].Ordinal,
		Text:         result.Content,
		TokensSaved:  tokensSaved,
		CreatedAt:    time.Now(),
	}
	_ = s.store.CreateSummary(ctx, summary)
}

func splitByLatestSummary(messages []*domain.ConversationMessage, summaries []*domain.ConversationSummary) (*domain.ConversationSummary, []*domain.ConversationMessage) {
	var latest *domain.ConversationSummary
	for _, sum := range summaries {
		if sum.Strategy != defaultSummaryStrategy {
			continue
		}
		if latest == nil || sum.LastOrdinal > latest.LastOrdinal {
			latest = sum
		}
	}
	if latest == nil {
		return nil, messages
	}
	var newer []*domain.ConversationMessage
	for _, m := range messages {
		if m.Ordinal > latest.LastOrdinal {
			newer = append(newer, m)
		}
	}
	return latest, newer
}

func bundleToTurns(bundle *contextmgr.Bundle) []domain.ChatTurn {
	turns := make([]domain.ChatTurn, 0, len(bundle.Messages)+1)
	if bundle.SummaryText != "" {
		turns = append(turns, domain.ChatTurn{Role: "system", Content: "Earlier conversation summary: " + bundle.SummaryText})
	}
	for _, m := range bundle.Messages {
		turns = append(turns, domain.ChatTurn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

func entityNames(bundle *contextmgr.Bundle) []string {
	names := make([]string, len(bundle.Entities))
	for i, e := range bundle.Entities {
		names[i] = e.Text
	}
	if bundle.AnchorHint != "" {
		names = append(names, bundle.AnchorHint)
	}
	return names
}

func sourceKeys(sources []domain.Source) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = src.DocumentID
	}
	return out
}

// estimateTokens is a cheap word-count proxy for message sizing. Unlike
// ingestion's chunker, which needs an exact tiktoken count to split at a
// byte-accurate boundary, conversation bookkeeping only needs a budget
// signal for pruning/summarization thresholds, so a word count avoids
// loading a tokenizer per message append.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

// Export produces a structured read-only dump of a session's messages,
// summaries, and per-message source attribution (§4.6).
type Export struct {
	Session   *domain.ConversationSession
	Messages  []*domain.ConversationMessage
	Summaries []*domain.ConversationSummary
}

func (s *Service) Export(ctx context.Context, sessionID string) (*Export, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	summaries, err := s.store.ListSummaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Export{Session: sess, Messages: messages, Summaries: summaries}, nil
}

// ListSessions returns an owner's sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, ownerID string) ([]*domain.ConversationSession, error) {
	return s.store.ListSessions(ctx, ownerID)
}
