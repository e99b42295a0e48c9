package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/contextmgr"
	"github.com/ragcore/ragcore/internal/conversation"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/suggestion"
)

type fakeConversationStore struct {
	sessions  map[string]*domain.ConversationSession
	messages  map[string][]*domain.ConversationMessage
	summaries map[string][]*domain.ConversationSummary
	defaults  *domain.UserDefaults
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		sessions:  map[string]*domain.ConversationSession{},
		messages:  map[string][]*domain.ConversationMessage{},
		summaries: map[string][]*domain.ConversationSummary{},
	}
}

func (f *fakeConversationStore) CreateSession(_ context.Context, sess *domain.ConversationSession) error {
	f.sessions[sess.ID] = sess
	return nil
}
func (f *fakeConversationStore) GetSession(_ context.Context, id string) (*domain.ConversationSession, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found")
	}
	return sess, nil
}
func (f *fakeConversationStore) ListSessions(_ context.Context, ownerID string) ([]*domain.ConversationSession, error) {
	var out []*domain.ConversationSession
	for _, s := range f.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeConversationStore) UpdateSession(_ context.Context, sess *domain.ConversationSession) error {
	f.sessions[sess.ID] = sess
	return nil
}
func (f *fakeConversationStore) AppendMessage(_ context.Context, msg *domain.ConversationMessage) error {
	msg.Ordinal = len(f.messages[msg.SessionID]) + 1
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], msg)
	return nil
}
func (f *fakeConversationStore) ListMessages(_ context.Context, sessionID string, limit int) ([]*domain.ConversationMessage, error) {
	msgs := f.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
func (f *fakeConversationStore) CreateSummary(_ context.Context, sum *domain.ConversationSummary) error {
	f.summaries[sum.SessionID] = append(f.summaries[sum.SessionID], sum)
	return nil
}
func (f *fakeConversationStore) ListSummaries(_ context.Context, sessionID string) ([]*domain.ConversationSummary, error) {
	return f.summaries[sessionID], nil
}
func (f *fakeConversationStore) GetOrInitUserDefaults(_ context.Context, userID string, seed *domain.UserDefaults) (*domain.UserDefaults, error) {
	if f.defaults != nil {
		return f.defaults, nil
	}
	seed.UserID = userID
	f.defaults = seed
	return seed, nil
}

type fakeSessionLocker struct{}

func (fakeSessionLocker) AcquireSessionLock(context.Context, string, time.Duration, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type fakeContextBuilder struct{}

func (fakeContextBuilder) BuildContext(_ context.Context, _, _ string, messages []*domain.ConversationMessage, _ []*domain.ConversationSummary, _ int) (*contextmgr.Bundle, error) {
	return &contextmgr.Bundle{Messages: messages}, nil
}
func (fakeContextBuilder) UpdateEntities(context.Context, string, int, string) error { return nil }
func (fakeContextBuilder) ShouldSummarize(int, int) bool                            { return false }
func (fakeContextBuilder) RebuildEntityTracker(context.Context, string, []*domain.ConversationMessage) error {
	return nil
}

type fakeConversationPipeline struct{ answer string }

func (f *fakeConversationPipeline) Run(_ context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	sc.Answer = f.answer
	return sc, nil
}

type fakeConversationChat struct{ content string }

func (f fakeConversationChat) Chat(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.content}, nil
}
func (f fakeConversationChat) ModelName() string { return "fake" }

type fakeDocumentSampler struct{}

func (fakeDocumentSampler) SampleChunkText(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func newTestConversationHandler(t *testing.T) (*ConversationHandler, *fakeConversationStore) {
	t.Helper()
	store := newFakeConversationStore()
	convSvc := conversation.NewService(store, fakeSessionLocker{}, fakeContextBuilder{}, &fakeConversationPipeline{answer: "the answer"}, fakeConversationChat{content: "Short Name"})
	suggestSvc := suggestion.NewService(fakeConversationChat{content: "what else?"}, nil, fakeDocumentSampler{})
	return NewConversationHandler(convSvc, suggestSvc), store
}

func newConversationTestContext(method, path string, body string, owner string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if owner != "" {
		c.Set(ownerContextKey, owner)
	}
	return c, rec
}

func TestTurnRejectsCallerThatDoesNotOwnSession(t *testing.T) {
	h, store := newTestConversationHandler(t)
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1", OwnerID: "owner-1", Status: domain.SessionStatusActive}

	c, _ := newConversationTestContext(http.MethodPost, "/sessions/s1/turns", `{"question":"hi"}`, "someone-else")
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	h.Turn(c)

	require.Len(t, c.Errors, 1)
	appErr, ok := apperrors.As(c.Errors.Last().Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeForbidden, appErr.Code)
	// the pipeline must never have run: no messages were appended.
	assert.Empty(t, store.messages["s1"])
}

func TestTurnRunsPipelineForOwner(t *testing.T) {
	h, store := newTestConversationHandler(t)
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1", OwnerID: "owner-1", Status: domain.SessionStatusActive}

	c, rec := newConversationTestContext(http.MethodPost, "/sessions/s1/turns", `{"question":"hi"}`, "owner-1")
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	h.Turn(c)

	require.Empty(t, c.Errors)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.messages["s1"], 2)
}

func TestTurnRejectsMutuallyExclusiveOverrides(t *testing.T) {
	h, store := newTestConversationHandler(t)
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1", OwnerID: "owner-1", Status: domain.SessionStatusActive}

	body := `{"question":"hi","technique_preset":"accurate","techniques":["vector_retrieval"]}`
	c, _ := newConversationTestContext(http.MethodPost, "/sessions/s1/turns", body, "owner-1")
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	h.Turn(c)

	require.Len(t, c.Errors, 1)
	appErr, ok := apperrors.As(c.Errors.Last().Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidInput, appErr.Code)
}

func TestExportSessionRejectsCallerThatDoesNotOwnSession(t *testing.T) {
	h, store := newTestConversationHandler(t)
	store.sessions["s1"] = &domain.ConversationSession{ID: "s1", OwnerID: "owner-1", Status: domain.SessionStatusActive}

	c, _ := newConversationTestContext(http.MethodGet, "/sessions/s1/export", "", "someone-else")
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	h.ExportSession(c)

	require.Len(t, c.Errors, 1)
	appErr, ok := apperrors.As(c.Errors.Last().Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeForbidden, appErr.Code)
}

func TestCreateSessionRejectsMissingCollectionID(t *testing.T) {
	h, _ := newTestConversationHandler(t)
	c, _ := newConversationTestContext(http.MethodPost, "/sessions", `{}`, "owner-1")

	h.CreateSession(c)

	require.Len(t, c.Errors, 1)
	appErr, ok := apperrors.As(c.Errors.Last().Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidInput, appErr.Code)
}
