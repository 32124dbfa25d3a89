package handler

import (
	"encoding/json"
	"net/http"

	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
)

// SettingsHandler handles settings endpoints.
type SettingsHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(st *store.Store, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  st,
		logger: log,
	}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Settings())
}

// Update handles PUT /api/v1/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if patch.Temperature != nil && (*patch.Temperature < 0 || *patch.Temperature > 2) {
		writeError(w, http.StatusBadRequest, "temperature must be between 0 and 2")
		return
	}

	writeJSON(w, http.StatusOK, h.store.UpdateSettings(patch))
}

// Reset handles POST /api/v1/settings/reset
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ResetSettings())
}
