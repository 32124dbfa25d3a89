package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a conversation message.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ThinkingPhase tracks the reply pipeline state for assistant messages.
	// It is empty for user messages.
	ThinkingPhase Phase `json:"thinking_phase,omitempty"`

	// FollowUpQuestions are suggested next questions, patched in after the
	// message is complete.
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// MessagePatch is a partial update applied to an existing message.
// Nil fields are left untouched.
type MessagePatch struct {
	Content           *string  `json:"content,omitempty"`
	ThinkingPhase     *Phase   `json:"thinking_phase,omitempty"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// SendMessageRequest is the request to send a new user message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ChatMessage is the `{role, content}` pair sent to the generation service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
