// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inquire-x/reflective-chat/internal/middleware"
	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st *store.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  st,
		logger: log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := h.store.CreateConversation()

	conv, ok := h.store.Conversation(id)
	if !ok {
		h.logger.Error("created conversation not found")
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: h.store.Conversations(),
		CurrentID:     h.store.CurrentID(),
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, conv)
}

// Select handles POST /api/v1/conversations/:id/select
func (h *ConversationHandler) Select(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.store.Conversation(conversationID); !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	h.store.SetCurrent(conversationID)
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.store.Conversation(conversationID); !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	h.store.DeleteConversation(conversationID)
	w.WriteHeader(http.StatusNoContent)
}
