// Package llm is the client for the remote generation services.
//
// The generation endpoint streams a reply as the line protocol decoded by
// the stream package. The follow-up endpoint is a plain JSON call. Both are
// reached over HTTP; request credentials travel in the body, matching the
// service contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inquire-x/reflective-chat/internal/model"
)

// GenerationRequest is one phase's request to the generation service.
type GenerationRequest struct {
	Messages     []model.ChatMessage `json:"messages"`
	APIKey       string              `json:"api_key"`
	Model        string              `json:"model"`
	SystemPrompt string              `json:"system_prompt"`
	Phase        string              `json:"phase"`
	Username     string              `json:"username,omitempty"`
	Temperature  float64             `json:"temperature,omitempty"`
}

// FollowUpRequest asks the follow-up service for suggested next questions.
type FollowUpRequest struct {
	Context        string `json:"context"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	FollowUpPrompt string `json:"follow_up_prompt"`
}

// FollowUpResponse is the follow-up service's answer. An empty list means
// no follow-ups were generated.
type FollowUpResponse struct {
	Questions []string `json:"questions"`
}

// Client talks to the generation and follow-up services.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// No overall timeout: a streaming reply runs until the body closes.
		http: &http.Client{},
	}
}

// StreamChat issues one phase's generation request and returns the raw
// response body for frame decoding. The caller must close it. A non-2xx
// status is a hard failure for the phase.
func (c *Client) StreamChat(ctx context.Context, req *GenerationRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("generation request returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// FollowUp issues one non-streaming follow-up request.
func (c *Client) FollowUp(ctx context.Context, req *FollowUpRequest) ([]string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal follow-up request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/followup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build follow-up request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("follow-up request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("follow-up request returned status %d", resp.StatusCode)
	}

	var out FollowUpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode follow-up response: %w", err)
	}
	return out.Questions, nil
}
