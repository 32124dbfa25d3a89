package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/stream"
	"github.com/inquire-x/reflective-chat/pkg/logger"
)

// newFakeUpstream serves an OpenAI-compatible API: SSE chunks for streaming
// requests, a single completion otherwise.
func newFakeUpstream(t *testing.T, sseChunks []string, completion string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			body, _ := io.ReadAll(r.Body)
			if strings.Contains(string(body), "\"stream\":true") {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, chunk := range sseChunks {
					fmt.Fprintf(w, "data: %s\n\n", chunk)
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, completion)
		case "/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"data":[{"id":"anthropic/claude-3.5-sonnet"},{"id":"openai/gpt-4o"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestGateway(t *testing.T, upstream *httptest.Server) *httptest.Server {
	t.Helper()
	g := New(upstream.URL, logger.NewNop())
	srv := httptest.NewServer(g.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	return resp
}

func TestChatReEncodesDeltasAsFrames(t *testing.T) {
	upstream := newFakeUpstream(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"pondering"}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
	}, "")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp := postJSON(t, srv.URL+"/chat", ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "hi"}},
		APIKey:   "sk-test",
		Model:    "openai/gpt-4o",
		Phase:    "polishing",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dec := stream.NewDecoder(resp.Body)
	var frames []stream.Frame
	for {
		f, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}

	require.Len(t, frames, 3)
	require.Equal(t, stream.FrameReasoning, frames[0].Kind)
	require.Equal(t, stream.FrameContent, frames[1].Kind)
	require.Equal(t, "Hel", frames[1].Text)
	require.Equal(t, "lo", frames[2].Text)
}

func TestChatFramesSurviveNewlinesInDeltas(t *testing.T) {
	upstream := newFakeUpstream(t, []string{
		`{"choices":[{"delta":{"content":"line1\nline2"}}]}`,
	}, "")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp := postJSON(t, srv.URL+"/chat", ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "hi"}},
		APIKey:   "sk-test",
		Model:    "m",
		Phase:    "drafting",
	})
	defer resp.Body.Close()

	dec := stream.NewDecoder(resp.Body)
	f, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, "line1\nline2", f.Text)
}

func TestChatValidation(t *testing.T) {
	upstream := newFakeUpstream(t, nil, "")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	cases := []ChatRequest{
		{Model: "m", Phase: "polishing"},                      // missing key
		{APIKey: "k", Phase: "polishing"},                     // missing model
		{APIKey: "k", Model: "m", Phase: "thinking"},          // overlay is not a requestable phase
		{APIKey: "k", Model: "m", Phase: "something made up"}, // unknown phase
	}
	for _, c := range cases {
		resp := postJSON(t, srv.URL+"/chat", c)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestFollowUpParsesQuestionLines(t *testing.T) {
	upstream := newFakeUpstream(t, nil, "What about X?\n\n  How does Y work?  \nWhy Z?\nA fourth question?")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp := postJSON(t, srv.URL+"/followup", FollowUpRequest{
		Context:        "User: hi\n\nAI: hello",
		APIKey:         "sk-test",
		Model:          "m",
		FollowUpPrompt: "generate questions",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, []string{"What about X?", "How does Y work?", "Why Z?"}, out.Questions)
}

func TestFollowUpMissingParameters(t *testing.T) {
	upstream := newFakeUpstream(t, nil, "")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp := postJSON(t, srv.URL+"/followup", FollowUpRequest{APIKey: "k"})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuestionsStripNumberedLines(t *testing.T) {
	upstream := newFakeUpstream(t, nil, "1. numbered\nFresh idea one\nFresh idea two\n")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp := postJSON(t, srv.URL+"/questions", QuestionsRequest{
		APIKey:             "sk-test",
		Model:              "m",
		ReferenceQuestions: []string{"example"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, []string{"Fresh idea one", "Fresh idea two"}, out.Questions)
}

func TestModels(t *testing.T) {
	upstream := newFakeUpstream(t, nil, "")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp, err := http.Get(srv.URL + "/models?api_key=sk-test")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Models, 2)
	require.Equal(t, "anthropic/claude-3.5-sonnet", out.Models[0].ID)
}

func TestModelsRequiresAPIKey(t *testing.T) {
	upstream := newFakeUpstream(t, nil, "")
	defer upstream.Close()
	srv := newTestGateway(t, upstream)

	resp, err := http.Get(srv.URL + "/models")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseQuestionList(t *testing.T) {
	got := parseQuestionList("a\n\nb\nc\nd", 3, false)
	require.Equal(t, []string{"a", "b", "c"}, got)

	got = parseQuestionList("1. skip\n2. skip too\nkeep", 6, true)
	require.Equal(t, []string{"keep"}, got)
}
