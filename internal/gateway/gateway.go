// Package gateway hosts the generation endpoints consumed by the reply
// pipeline.
//
// It proxies to an OpenAI-compatible upstream (OpenRouter by default) and
// re-encodes streamed replies as the line protocol the pipeline decodes:
// `0:<json-string>` per content delta and `g:<json-string>` per reasoning
// delta. Credentials arrive per request; the gateway holds no keys.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/pkg/logger"
)

// DefaultUpstreamURL is the OpenRouter OpenAI-compatible endpoint.
const DefaultUpstreamURL = "https://openrouter.ai/api/v1"

const questionTemperature = 0.9

var phasePrompts = map[model.Phase]string{
	model.PhaseDrafting:    "Answer the user's question directly. Give your initial thinking and answer.",
	model.PhaseQuestioning: "Review your previous answer and identify the places where it is imprecise, one-sided, or incomplete. Name two or three points worth reflecting on.",
	model.PhasePolishing:   "Based on the previous answer and the reflection, now give the final, improved reply. Integrate the earlier thinking into a more complete, deeper answer. Use Markdown formatting.",
}

// Gateway serves the generation, follow-up, question and model endpoints.
type Gateway struct {
	upstreamURL string
	logger      *logger.Logger
}

// New creates a gateway proxying to the given upstream base URL.
func New(upstreamURL string, log *logger.Logger) *Gateway {
	if upstreamURL == "" {
		upstreamURL = DefaultUpstreamURL
	}
	return &Gateway{upstreamURL: upstreamURL, logger: log}
}

// Routes returns the gateway's route tree.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/chat", g.Chat)
	r.Post("/followup", g.FollowUp)
	r.Post("/questions", g.Questions)
	r.Get("/models", g.Models)
	return r
}

func (g *Gateway) upstream(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = g.upstreamURL
	return openai.NewClientWithConfig(cfg)
}

// ChatRequest is one phase's generation request.
type ChatRequest struct {
	Messages     []model.ChatMessage `json:"messages"`
	APIKey       string              `json:"api_key"`
	Model        string              `json:"model"`
	SystemPrompt string              `json:"system_prompt"`
	Phase        string              `json:"phase"`
	Username     string              `json:"username,omitempty"`
	Temperature  float64             `json:"temperature,omitempty"`
}

func (req *ChatRequest) validate() error {
	if strings.TrimSpace(req.APIKey) == "" {
		return errors.New("API key is not set")
	}
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is not set")
	}
	if _, ok := phasePrompts[model.Phase(req.Phase)]; !ok {
		return errors.New("invalid phase")
	}
	return nil
}

// Chat handles POST /gateway/chat. The upstream reply streams back as
// newline-delimited frames, flushed per delta.
func (g *Gateway) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	systemPrompt := req.SystemPrompt
	if req.Username != "" {
		systemPrompt = strings.ReplaceAll(systemPrompt, "{username}", req.Username)
	}
	systemPrompt += "\n\n" + phasePrompts[model.Phase(req.Phase)]

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	stream, err := g.upstream(req.APIKey).CreateChatCompletionStream(r.Context(), openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		g.logger.Error("upstream stream failed", zap.Error(err), zap.String("phase", req.Phase))
		writeError(w, upstreamStatus(err), "generation request failed")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// The frame stream has no error channel; the body just ends.
			g.logger.Warn("upstream stream interrupted", zap.Error(err))
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.ReasoningContent != "" {
			writeFrame(w, flusher, "g:", delta.ReasoningContent)
		}
		if delta.Content != "" {
			writeFrame(w, flusher, "0:", delta.Content)
		}
	}
}

// FollowUpRequest asks for suggested next questions.
type FollowUpRequest struct {
	Context        string `json:"context"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	FollowUpPrompt string `json:"follow_up_prompt"`
}

// FollowUp handles POST /gateway/followup with a non-streaming completion.
func (g *Gateway) FollowUp(w http.ResponseWriter, r *http.Request) {
	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" || req.Model == "" || req.Context == "" {
		writeError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	resp, err := g.upstream(req.APIKey).CreateChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.FollowUpPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(
				"Here is the conversation so far:\n\n%s\n\nBased on it, generate three follow-up questions.", req.Context)},
		},
	})
	if err != nil {
		g.logger.Warn("follow-up generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate follow-ups")
		return
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	questions := parseQuestionList(text, 3, false)
	writeJSON(w, http.StatusOK, map[string][]string{"questions": questions})
}

// QuestionsRequest asks for fresh recommended opener questions.
type QuestionsRequest struct {
	APIKey             string   `json:"api_key"`
	Model              string   `json:"model"`
	ReferenceQuestions []string `json:"reference_questions"`
}

// Questions handles POST /gateway/questions, generating up to six new
// opener questions in the spirit of the reference list.
func (g *Gateway) Questions(w http.ResponseWriter, r *http.Request) {
	var req QuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	prompt := fmt.Sprintf(
		"Here are some example conversation openers:\n\n%s\n\nWrite six new openers in the same spirit: short, curiosity-driven, one per line, no numbering or extra text.",
		strings.Join(req.ReferenceQuestions, "\n"))

	resp, err := g.upstream(req.APIKey).CreateChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: questionTemperature,
	})
	if err != nil {
		g.logger.Warn("question generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate questions")
		return
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	questions := parseQuestionList(text, 6, true)
	writeJSON(w, http.StatusOK, map[string][]string{"questions": questions})
}

// ModelInfo is one entry of the upstream model catalog.
type ModelInfo struct {
	ID string `json:"id"`
}

// Models handles GET /gateway/models?api_key=...
func (g *Gateway) Models(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		writeError(w, http.StatusBadRequest, "API key is not set")
		return
	}

	list, err := g.upstream(apiKey).ListModels(r.Context())
	if err != nil {
		g.logger.Warn("model listing failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to list models")
		return
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{ID: m.ID})
	}
	writeJSON(w, http.StatusOK, map[string][]ModelInfo{"models": models})
}

var numberedLine = regexp.MustCompile(`^\d+\.`)

// parseQuestionList splits newline-separated questions, trimming and
// dropping empties. When stripNumbered is set, lines the model numbered
// anyway are discarded rather than kept.
func parseQuestionList(text string, maxCount int, stripNumbered bool) []string {
	out := make([]string, 0, maxCount)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if stripNumbered && numberedLine.MatchString(line) {
			continue
		}
		out = append(out, line)
		if len(out) == maxCount {
			break
		}
	}
	return out
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, marker, text string) {
	payload, err := json.Marshal(text)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s%s\n", marker, payload)
	if flusher != nil {
		flusher.Flush()
	}
}

func upstreamStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
