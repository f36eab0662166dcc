package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/orchestrator"
	"github.com/kairos-ai/kairos-core/internal/repository"
)

// ChatHandler is the platform-ingress adapter (§6): it turns an inbound
// HTTP request into a Turn, drives it through the orchestrator, and renders
// the ProcessingResult back to the caller. It holds no pipeline state of its
// own beyond the orchestrator reference.
type ChatHandler struct {
	logger *zap.Logger
	pipe   *orchestrator.Orchestrator

	// Messages, when set, receives a flat audit-log row per turn (user
	// message and bot response), keyed by a user/character session id.
	// Best-effort: a write failure is logged, never surfaced to the caller.
	Messages repository.MessageRepository
}

func NewChatHandler(logger *zap.Logger, pipe *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{logger: logger, pipe: pipe}
}

type attachmentRequest struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

type postMessageRequest struct {
	UserID      string              `json:"user_id" binding:"required"`
	CharacterID string              `json:"character_id" binding:"required"`
	Platform    string              `json:"platform"`
	ChannelType string              `json:"channel_type"`
	Content     string              `json:"content" binding:"required"`
	Attachments []attachmentRequest `json:"attachments,omitempty"`
}

// PostMessage maneja POST /message: construye un Turn y lo procesa a traves
// del pipeline completo (C13), devolviendo el ProcessingResult resultante.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	channel := domain.ChannelDirect
	if req.ChannelType == string(domain.ChannelGroup) {
		channel = domain.ChannelGroup
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, domain.Attachment{Kind: a.Kind, URI: a.URI})
	}

	turn := domain.Turn{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Platform:    req.Platform,
		ChannelType: channel,
		Content:     req.Content,
		Attachments: attachments,
		ReceivedAt:  time.Now().UTC(),
	}

	result, err := h.pipe.Process(c.Request.Context(), turn)
	h.logTurn(turn, result)

	switch {
	case err == nil, errors.Is(err, orchestrator.ErrDegraded):
		c.JSON(http.StatusOK, result)
	case errors.Is(err, orchestrator.ErrTurnRejected):
		c.JSON(http.StatusOK, result)
	default:
		h.logger.Error("turn processing failed", zap.Error(err))
		c.JSON(http.StatusOK, result)
	}
}

// logTurn appends the user message and bot response to the audit trail in
// the background; the request is never held up on it and a write failure is
// only ever logged.
func (h *ChatHandler) logTurn(turn domain.Turn, result domain.ProcessingResult) {
	if h.Messages == nil {
		return
	}
	sessionID := turn.UserID + ":" + turn.CharacterID
	now := time.Now().UTC()
	rows := []domain.Message{
		{ID: uuid.NewString(), UserID: turn.UserID, SessionID: sessionID, Content: turn.Content, Role: "user", CreatedAt: now},
	}
	if result.ResponseText != "" {
		rows = append(rows, domain.Message{
			ID: uuid.NewString(), UserID: turn.UserID, SessionID: sessionID,
			Content: result.ResponseText, Role: "assistant", CreatedAt: now,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, m := range rows {
			if err := h.Messages.Create(ctx, m); err != nil {
				h.logger.Warn("audit log write failed", zap.Error(err))
			}
		}
	}()
}
