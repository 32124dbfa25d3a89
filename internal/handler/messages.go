package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inquire-x/reflective-chat/internal/middleware"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st *store.Store, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		store:  st,
		logger: log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, ok := h.store.Conversation(conversationID)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": conv.Messages,
	})
}
