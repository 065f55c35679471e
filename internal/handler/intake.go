package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/engine"
	"github.com/capitalize-ai/intake-engine/internal/middleware"
	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
)

// IntakeHandler handles the synchronous webhook path for channel adapters
// that prefer HTTP over the message stream.
type IntakeHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewIntakeHandler creates a new intake handler.
func NewIntakeHandler(eng *engine.Engine, log *logger.Logger) *IntakeHandler {
	return &IntakeHandler{engine: eng, logger: log}
}

type intakeRequest struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type intakeResponse struct {
	Replies []string `json:"replies"`
}

// Receive handles POST /api/v1/messages. The channel claim from the JWT
// identifies the adapter; the body carries the user turn.
func (h *IntakeHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := middleware.GetChannel(ctx)
	if channel == "" {
		writeError(w, http.StatusForbidden, "token has no channel claim")
		return
	}

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateThreadID(req.ThreadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := model.InboundMessage{
		UserID:    req.UserID,
		UserName:  req.UserName,
		Channel:   channel,
		ThreadID:  req.ThreadID,
		MessageID: req.MessageID,
		Text:      req.Text,
		SentAt:    time.Now().UTC(),
	}

	replies, err := h.engine.HandleMessage(ctx, in)
	if err != nil {
		h.logger.Error("failed to handle message",
			zap.Error(err),
			zap.String("thread_id", req.ThreadID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)))
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	resp := intakeResponse{Replies: make([]string, 0, len(replies))}
	for _, reply := range replies {
		resp.Replies = append(resp.Replies, reply.Text)
	}
	writeJSON(w, http.StatusOK, resp)
}
