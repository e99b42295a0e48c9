package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/contextmgr"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
)

type fakeStore struct {
	sessions  map[string]*domain.ConversationSession
	messages  map[string][]*domain.ConversationMessage
	summaries map[string][]*domain.ConversationSummary
	defaults  *domain.UserDefaults
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  map[string]*domain.ConversationSession{},
		messages:  map[string][]*domain.ConversationMessage{},
		summaries: map[string][]*domain.ConversationSummary{},
	}
}

func (f *fakeStore) CreateSession(_ context.Context, sess *domain.ConversationSession) error {
	f.sessions[sess.ID] = sess
	return nil
}
func (f *fakeStore) GetSession(_ context.Context, id string) (*domain.ConversationSession, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, assert.AnError
	}
	return sess, nil
}
func (f *fakeStore) ListSessions(_ context.Context, ownerID string) ([]*domain.ConversationSession, error) {
	var out []*domain.ConversationSession
	for _, s := range f.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeStore) UpdateSession(_ context.Context, sess *domain.ConversationSession) error {
	f.sessions[sess.ID] = sess
	return nil
}
func (f *fakeStore) AppendMessage(_ context.Context, msg *domain.ConversationMessage) error {
	msg.Ordinal = len(f.messages[msg.SessionID]) + 1
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], msg)
	return nil
}
func (f *fakeStore) ListMessages(_ context.Context, sessionID string, limit int) ([]*domain.ConversationMessage, error) {
	msgs := f.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
func (f *fakeStore) CreateSummary(_ context.Context, sum *domain.ConversationSummary) error {
	f.summaries[sum.SessionID] = append(f.summaries[sum.SessionID], sum)
	return nil
}
func (f *fakeStore) ListSummaries(_ context.Context, sessionID string) ([]*domain.ConversationSummary, error) {
	return f.summaries[sessionID], nil
}
func (f *fakeStore) GetOrInitUserDefaults(_ context.Context, userID string, seed *domain.UserDefaults) (*domain.UserDefaults, error) {
	if f.defaults != nil {
		return f.defaults, nil
	}
	seed.UserID = userID
	f.defaults = seed
	return seed, nil
}

type fakeLocker struct{}

func (fakeLocker) AcquireSessionLock(context.Context, string, time.Duration, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type fakeCtxMgr struct {
	shouldSummarize bool
	rebuiltFrom     []*domain.ConversationMessage
}

func (f *fakeCtxMgr) BuildContext(_ context.Context, _, _ string, messages []*domain.ConversationMessage, summaries []*domain.ConversationSummary, _ int) (*contextmgr.Bundle, error) {
	return &contextmgr.Bundle{Messages: messages}, nil
}
func (f *fakeCtxMgr) UpdateEntities(context.Context, string, int, string) error { return nil }
func (f *fakeCtxMgr) ShouldSummarize(int, int) bool                            { return f.shouldSummarize }
func (f *fakeCtxMgr) RebuildEntityTracker(_ context.Context, _ string, messages []*domain.ConversationMessage) error {
	f.rebuiltFrom = messages
	return nil
}

type fakePipeline struct {
	answer      string
	lastContext *domain.SearchContext
}

func (f *fakePipeline) Run(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	sc.Answer = f.answer
	f.lastContext = sc
	return sc, nil
}

type fakeChat struct {
	content string
}

func (f fakeChat) Chat(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.content}, nil
}
func (f fakeChat) ModelName() string { return "fake" }

func newTestService(store *fakeStore, ctxmgr *fakeCtxMgr, pipeline *fakePipeline, chat llm.ChatModel) *Service {
	return NewService(store, fakeLocker{}, ctxmgr, pipeline, chat)
}

func TestTurnAppendsMessagesAndRunsPipeline(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", DisplayName: DefaultSessionName, Status: domain.SessionStatusActive}
	store.sessions["s1"] = sess

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{answer: "the answer"}, fakeChat{content: "Short Name"})

	result, err := svc.Turn(t.Context(), "s1", "what is this about?", domain.RequestOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "what is this about?", result.Question.Content)
	assert.Equal(t, "the answer", result.Answer.Content)
	assert.Len(t, store.messages["s1"], 2)
}

func TestTurnRejectsMutuallyExclusiveOverrides(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", DisplayName: DefaultSessionName, Status: domain.SessionStatusActive}
	store.sessions["s1"] = sess

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{answer: "the answer"}, fakeChat{content: "Short Name"})

	_, err := svc.Turn(t.Context(), "s1", "what is this about?", domain.RequestOverrides{
		PresetName: "accurate",
		Techniques: []string{"vector_retrieval"},
	})
	require.Error(t, err)
}

func TestTurnAppliesGenerationOverridesToLLMSnapshot(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", DisplayName: DefaultSessionName, Status: domain.SessionStatusActive}
	store.sessions["s1"] = sess

	pipeline := &fakePipeline{answer: "the answer"}
	svc := newTestService(store, &fakeCtxMgr{}, pipeline, fakeChat{content: "Short Name"})

	temp := float32(0.1)
	maxTokens := 64
	_, err := svc.Turn(t.Context(), "s1", "what is this about?", domain.RequestOverrides{
		Temperature:  &temp,
		MaxNewTokens: &maxTokens,
	})
	require.NoError(t, err)
	require.NotNil(t, pipeline.lastContext)
	assert.Equal(t, float32(0.1), pipeline.lastContext.LLMSnapshot.Temperature)
	assert.Equal(t, 64, pipeline.lastContext.LLMSnapshot.MaxNewTokens)
}

func TestTurnRejectsWhenCollectionGone(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", Status: domain.SessionStatusActive, CollectionGone: true}
	store.sessions["s1"] = sess

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{answer: "x"}, nil)

	_, err := svc.Turn(t.Context(), "s1", "hello", domain.RequestOverrides{})
	require.Error(t, err)
}

func TestTurnAutoNamesSessionAfterFirstTurn(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", DisplayName: DefaultSessionName, Status: domain.SessionStatusActive}
	store.sessions["s1"] = sess

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{answer: "the answer"}, fakeChat{content: "Project Orion Recap"})

	_, err := svc.Turn(t.Context(), "s1", "tell me about orion", domain.RequestOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "Project Orion Recap", store.sessions["s1"].DisplayName)
}

func TestTurnDoesNotRenameAfterFirstTurn(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", DisplayName: "Already Named", Status: domain.SessionStatusActive}
	store.sessions["s1"] = sess
	store.messages["s1"] = []*domain.ConversationMessage{{ID: "m0", SessionID: "s1", Ordinal: 1, Role: domain.RoleUser}}

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{answer: "the answer"}, fakeChat{content: "Would Be Renamed"})

	_, err := svc.Turn(t.Context(), "s1", "second question", domain.RequestOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "Already Named", store.sessions["s1"].DisplayName)
}

func TestTurnTriggersSummarizationWhenDue(t *testing.T) {
	store := newFakeStore()
	sess := &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1", DisplayName: "named", Status: domain.SessionStatusActive}
	store.sessions["s1"] = sess
	store.messages["s1"] = []*domain.ConversationMessage{
		{ID: "m1", SessionID: "s1", Ordinal: 1, Role: domain.RoleUser, Content: "hi", Tokens: 1},
		{ID: "m2", SessionID: "s1", Ordinal: 2, Role: domain.RoleAssistant, Content: "hello", Tokens: 1},
	}

	svc := newTestService(store, &fakeCtxMgr{shouldSummarize: true}, &fakePipeline{answer: "the answer"}, fakeChat{content: "a summary"})

	_, err := svc.Turn(t.Context(), "s1", "third question", domain.RequestOverrides{})
	require.NoError(t, err)
	require.Len(t, store.summaries["s1"], 1)
	assert.Equal(t, "a summary", store.summaries["s1"][0].Text)
}

func TestForceSummarizeSummarizesOutsideATurn(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1", OwnerID: "u1", CollectionID: "c1"}
	store.messages["s1"] = []*domain.ConversationMessage{
		{ID: "m1", SessionID: "s1", Ordinal: 1, Role: domain.RoleUser, Content: "hi"},
		{ID: "m2", SessionID: "s1", Ordinal: 2, Role: domain.RoleAssistant, Content: "hello"},
	}

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{}, fakeChat{content: "a summary"})
	err := svc.ForceSummarize(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, store.summaries["s1"], 1)
	assert.Equal(t, "a summary", store.summaries["s1"][0].Text)
}

func TestRebuildEntitiesReplaysFullHistory(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1"}
	store.messages["s1"] = []*domain.ConversationMessage{
		{ID: "m1", SessionID: "s1", Ordinal: 1, Content: "hi"},
	}
	ctxmgr := &fakeCtxMgr{}

	svc := newTestService(store, ctxmgr, &fakePipeline{}, nil)
	err := svc.RebuildEntities(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, ctxmgr.rebuiltFrom, 1)
	assert.Equal(t, "hi", ctxmgr.rebuiltFrom[0].Content)
}

func TestExportReturnsSessionMessagesAndSummaries(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1"}
	store.messages["s1"] = []*domain.ConversationMessage{{ID: "m1", SessionID: "s1"}}
	store.summaries["s1"] = []*domain.ConversationSummary{{ID: "sum1", SessionID: "s1"}}

	svc := newTestService(store, &fakeCtxMgr{}, &fakePipeline{}, nil)
	export, err := svc.Export(t.Context(), "s1")
	require.NoError(t, err)
	assert.Len(t, export.Messages, 1)
	assert.Len(t, export.Summaries, 1)
}
