package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/conversation"
	"github.com/ragcore/ragcore/internal/domain"
	"github.com/ragcore/ragcore/internal/suggestion"
)

// ConversationHandler exposes session lifecycle, turns, export, and
// follow-up suggestions (§4.6, §4.7).
type ConversationHandler struct {
	conversations *conversation.Service
	suggestions   *suggestion.Service
}

func NewConversationHandler(conversations *conversation.Service, suggestions *suggestion.Service) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, suggestions: suggestions}
}

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	CollectionID string               `json:"collection_id" binding:"required"`
	Config       domain.SessionConfig `json:"config"`
}

// CreateSession handles POST /sessions.
func (h *ConversationHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(err.Error()))
		return
	}
	sess, err := h.conversations.CreateSession(c.Request.Context(), ownerID(c), req.CollectionID, req.Config)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, sess)
}

// ListSessions handles GET /sessions.
func (h *ConversationHandler) ListSessions(c *gin.Context) {
	sessions, err := h.conversations.ListSessions(c.Request.Context(), ownerID(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, sessions)
}

// TurnRequest is the request body for POST /sessions/:id/turns. The
// override fields are all optional (§6); omitting every one of them runs
// the caller's persisted UserDefaults unchanged. TechniquePreset and
// Techniques are mutually exclusive.
type TurnRequest struct {
	Question string `json:"question" binding:"required"`

	TechniquePreset string   `json:"technique_preset,omitempty"`
	Techniques      []string `json:"techniques,omitempty"`
	TopK            int      `json:"top_k,omitempty"`
	RerankEnabled   *bool    `json:"rerank_enabled,omitempty"`
	CoTEnabled      *bool    `json:"cot_enabled,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxNewTokens    *int     `json:"max_new_tokens,omitempty"`
	DeadlineMS      int      `json:"deadline_ms,omitempty"`
}

func (r TurnRequest) toOverrides() domain.RequestOverrides {
	overrides := domain.RequestOverrides{
		PresetName:    r.TechniquePreset,
		Techniques:    r.Techniques,
		TopK:          r.TopK,
		RerankEnabled: r.RerankEnabled,
		CoTEnabled:    r.CoTEnabled,
		Temperature:   r.Temperature,
		MaxNewTokens:  r.MaxNewTokens,
	}
	if r.DeadlineMS > 0 {
		overrides.Deadline = time.Duration(r.DeadlineMS) * time.Millisecond
	}
	return overrides
}

// Turn handles POST /sessions/:id/turns, running one full conversation
// turn (§4.6) and returning the assistant's answer plus its sources.
func (h *ConversationHandler) Turn(c *gin.Context) {
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(err.Error()))
		return
	}
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if err := h.checkSessionOwner(ctx, c, sessionID); err != nil {
		c.Error(err)
		return
	}
	result, err := h.conversations.Turn(ctx, sessionID, req.Question, req.toOverrides())
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, result)
}

// ExportSession handles GET /sessions/:id/export.
func (h *ConversationHandler) ExportSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if err := h.checkSessionOwner(ctx, c, sessionID); err != nil {
		c.Error(err)
		return
	}
	export, err := h.conversations.Export(ctx, sessionID)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, export)
}

// checkSessionOwner rejects access to a session before any action with a
// side effect runs against it (a Turn answers a question; Export reads
// history), so an unauthorized request never does work on another owner's
// behalf.
func (h *ConversationHandler) checkSessionOwner(ctx context.Context, c *gin.Context, sessionID string) error {
	sess, err := h.conversations.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.OwnerID != ownerID(c) {
		return apperrors.NewForbiddenError("session belongs to another owner")
	}
	return nil
}

// SuggestRequest is the request body for POST /sessions/:id/suggestions.
type SuggestRequest struct {
	ContextText    string `json:"context_text"`
	CollectionID   string `json:"collection_id"`
	LastAnswer     string `json:"last_answer"`
	MaxSuggestions int    `json:"max_suggestions"`
}

// Suggest handles POST /sessions/:id/suggestions (§4.7): follow-up
// question suggestions drawn from the current context, the collection's
// documents, and the prior answer.
func (h *ConversationHandler) Suggest(c *gin.Context) {
	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(err.Error()))
		return
	}
	suggestions, err := h.suggestions.Suggest(c.Request.Context(), suggestion.Request{
		ContextText:    req.ContextText,
		CollectionID:   req.CollectionID,
		LastAnswer:     req.LastAnswer,
		MaxSuggestions: req.MaxSuggestions,
	})
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, gin.H{"suggestions": suggestions})
}
