package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/middleware"
	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/pipeline"
	"github.com/inquire-x/reflective-chat/pkg/logger"
	"github.com/inquire-x/reflective-chat/pkg/metrics"
)

// StreamHandler handles the SSE endpoints that run the reply pipeline.
type StreamHandler struct {
	orchestrator *pipeline.Orchestrator
	logger       *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(orch *pipeline.Orchestrator, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		orchestrator: orch,
		logger:       log,
	}
}

// Send handles POST /api/v1/conversations/:id/messages
// It appends the user turn, runs the reply pipeline, and streams pipeline
// events over SSE. When the pipeline is rejected before producing any event
// (busy gate, missing settings, unknown conversation) a plain JSON error is
// returned instead of a stream.
func (h *StreamHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The pipeline outlives the request: a disconnecting client stops
	// observing, not the generation. The reply still completes into the
	// store; event delivery is best-effort.
	ctx := context.WithoutCancel(r.Context())
	h.stream(w, func(sink pipeline.EventSink) error {
		_, err := h.orchestrator.Send(ctx, conversationID, req.Content, sink)
		return err
	})
}

// Regenerate handles POST /api/v1/conversations/:id/messages/:messageID/regenerate
func (h *StreamHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.stream(w, func(sink pipeline.EventSink) error {
		_, err := h.orchestrator.Regenerate(ctx, conversationID, messageID, sink)
		return err
	})
}

// stream runs fn with a sink that forwards pipeline events over SSE. Headers
// are not written until the first event arrives, so rejections that happen
// before the pipeline starts can still be reported as regular JSON errors.
func (h *StreamHandler) stream(w http.ResponseWriter, fn func(pipeline.EventSink) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := make(chan pipeline.Event, 16)
	errCh := make(chan error, 1)

	go func() {
		err := fn(func(ev pipeline.Event) {
			events <- ev
		})
		close(events)
		errCh <- err
	}()

	headersSent := false
	for ev := range events {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
			w.WriteHeader(http.StatusOK)

			metrics.IncrementSSEConnections()
			defer metrics.DecrementSSEConnections()
			headersSent = true
		}
		sendSSEEvent(w, flusher, string(ev.Type), ev)
	}

	err := <-errCh
	if headersSent {
		if err != nil {
			h.logger.Error("pipeline finished with error", zap.Error(err))
		}
		return
	}

	switch {
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrMissingAPIKey), errors.Is(err, pipeline.ErrMissingModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrConversationNotFound), errors.Is(err, pipeline.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "pipeline failed")
	default:
		// Completed without emitting any event. Nothing to stream.
		w.WriteHeader(http.StatusNoContent)
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
