package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/middleware"
	"github.com/capitalize-ai/intake-engine/internal/store"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
)

// ConversationHandler exposes read-only conversation inspection for
// operators and channel adapters.
type ConversationHandler struct {
	store  store.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st store.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: st, logger: log}
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to load conversation", zap.Error(err), zap.String("conversation_id", id))
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// GetByThread handles GET /api/v1/threads/{channel}/{thread_id}
func (h *ConversationHandler) GetByThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := chi.URLParam(r, "channel")
	threadID := chi.URLParam(r, "thread_id")

	if err := middleware.ValidateChannel(channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.ActiveByThread(ctx, channel, threadID)
	if err != nil {
		h.logger.Error("failed to load conversation", zap.Error(err), zap.String("thread_id", threadID))
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "no active conversation in thread")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
