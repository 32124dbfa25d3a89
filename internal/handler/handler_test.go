package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/inquire-x/reflective-chat/internal/llm"
	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/pipeline"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
)

// newTestAPI wires the API routes against a fake generation service.
func newTestAPI(t *testing.T, generation http.HandlerFunc) (*httptest.Server, *store.Store) {
	t.Helper()

	gen := httptest.NewServer(generation)
	t.Cleanup(gen.Close)

	log := logger.NewNop()
	st := store.New(nil, nil, log)
	orch := pipeline.New(st, llm.NewClient(gen.URL), log)

	conversationHandler := NewConversationHandler(st, log)
	messageHandler := NewMessageHandler(st, log)
	streamHandler := NewStreamHandler(orch, log)
	settingsHandler := NewSettingsHandler(st, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/select", conversationHandler.Select)
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", streamHandler.Send)
				r.Post("/messages/{messageID}/regenerate", streamHandler.Regenerate)
			})
		})
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.Get)
			r.Put("/", settingsHandler.Update)
			r.Post("/reset", settingsHandler.Reset)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func generationOK(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/followup" {
			json.NewEncoder(w).Encode(llm.FollowUpResponse{})
			return
		}
		w.Write([]byte(body))
	}
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestConversationLifecycle(t *testing.T) {
	srv, _ := newTestAPI(t, generationOK(""))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/conversations", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv model.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	resp.Body.Close()
	require.NotEmpty(t, conv.ID)
	require.Equal(t, model.DefaultTitle, conv.Title)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list model.ListConversationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Conversations, 1)
	require.Equal(t, conv.ID, list.CurrentID)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSelectConversation(t *testing.T) {
	srv, st := newTestAPI(t, generationOK(""))

	first := st.CreateConversation()
	second := st.CreateConversation()
	require.Equal(t, second, st.CurrentID())

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/conversations/"+first+"/select", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, first, st.CurrentID())
}

func TestSendStreamsPipelineEvents(t *testing.T) {
	srv, st := newTestAPI(t, generationOK("0:\"Hi\"\n0:\" there\"\n"))

	key := "sk-test"
	pipelineMode := false
	st.UpdateSettings(model.SettingsPatch{APIKey: &key, EnablePipeline: &pipelineMode})
	convID := st.CreateConversation()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/conversations/"+convID+"/messages",
		`{"content":"hello"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := new(strings.Builder)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		body.Write(buf[:n])
		if readErr != nil {
			break
		}
	}
	require.Contains(t, body.String(), "event: phase")
	require.Contains(t, body.String(), "event: delta")
	require.Contains(t, body.String(), "event: complete")

	conv, _ := st.Conversation(convID)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "Hi there", conv.Messages[1].Content)
}

func TestSendCompletesAfterClientDisconnect(t *testing.T) {
	release := make(chan struct{})
	srv, st := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/followup" {
			json.NewEncoder(w).Encode(llm.FollowUpResponse{})
			return
		}
		flusher := w.(http.Flusher)
		w.Write([]byte("0:\"partial\"\n"))
		flusher.Flush()
		<-release
		w.Write([]byte("0:\" answer\"\n"))
	})

	key := "sk-test"
	pipelineMode := false
	st.UpdateSettings(model.SettingsPatch{APIKey: &key, EnablePipeline: &pipelineMode})
	convID := st.CreateConversation()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		srv.URL+"/api/v1/conversations/"+convID+"/messages", strings.NewReader(`{"content":"hello"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// Walk away after the first delta arrives.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: delta") {
			break
		}
	}
	cancel()
	resp.Body.Close()
	close(release)

	require.Eventually(t, func() bool {
		conv, ok := st.Conversation(convID)
		return ok && len(conv.Messages) == 2 && conv.Messages[1].ThinkingPhase == model.PhaseComplete
	}, 5*time.Second, 10*time.Millisecond, "reply should finish without an observer")

	conv, _ := st.Conversation(convID)
	require.Equal(t, "partial answer", conv.Messages[1].Content)
}

func TestSendPreconditionErrorsAreJSON(t *testing.T) {
	srv, st := newTestAPI(t, generationOK(""))
	convID := st.CreateConversation()

	// No API key configured.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/conversations/"+convID+"/messages",
		`{"content":"hello"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestSendUnknownConversation(t *testing.T) {
	srv, st := newTestAPI(t, generationOK(""))
	key := "sk-test"
	st.UpdateSettings(model.SettingsPatch{APIKey: &key})

	resp := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/conversations/0190fa3e-0000-7000-8000-000000000000/messages",
		`{"content":"hello"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendEmptyContentRejected(t *testing.T) {
	srv, st := newTestAPI(t, generationOK(""))
	convID := st.CreateConversation()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/conversations/"+convID+"/messages",
		`{"content":""}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestAPI(t, generationOK(""))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/settings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings model.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	resp.Body.Close()
	require.Equal(t, model.DefaultSettings().Model, settings.Model)

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings",
		`{"model":"openai/gpt-4o","temperature":0.2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	resp.Body.Close()
	require.Equal(t, "openai/gpt-4o", settings.Model)
	require.Equal(t, 0.2, settings.Temperature)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/settings/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	resp.Body.Close()
	require.Equal(t, model.DefaultSettings().Model, settings.Model)
}

func TestSettingsTemperatureBounds(t *testing.T) {
	srv, _ := newTestAPI(t, generationOK(""))

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", `{"temperature":3.5}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListMessages(t *testing.T) {
	srv, st := newTestAPI(t, generationOK(""))
	convID := st.CreateConversation()
	st.AppendMessage(convID, model.Message{Role: model.RoleUser, Content: "hi"})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/conversations/"+convID+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Len(t, out.Messages, 1)
	require.Equal(t, "hi", out.Messages[0].Content)
}
