// Package model defines data structures for the reflective chat core.
package model

import (
	"time"
)

// DefaultTitle is the placeholder title a conversation carries until its
// first user message arrives.
const DefaultTitle = "New conversation"

// TitleMaxRunes is the length the first user message is truncated to when
// it becomes the conversation title.
const TitleMaxRunes = 20

// Conversation represents a conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveTitle produces the once-only conversation title from the first user
// message: the content truncated to TitleMaxRunes runes, with an ellipsis
// marker iff it was truncated.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxRunes {
		return content
	}
	return string(runes[:TitleMaxRunes]) + "..."
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	CurrentID     string         `json:"current_id,omitempty"`
}
