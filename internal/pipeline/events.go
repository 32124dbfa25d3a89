package pipeline

import (
	"github.com/inquire-x/reflective-chat/internal/model"
)

// EventType identifies a pipeline observer event.
type EventType string

const (
	// EventPhaseChange reports the message's visible phase, including the
	// thinking overlay flipping on and off.
	EventPhaseChange EventType = "phase"
	// EventContentDelta carries one streamed content delta of the final phase.
	EventContentDelta EventType = "delta"
	// EventComplete reports pipeline completion with the final content.
	EventComplete EventType = "complete"
	// EventPipelineError reports a pipeline abort.
	EventPipelineError EventType = "error"
	// EventFollowUps carries the follow-up questions patched onto the message.
	EventFollowUps EventType = "followups"
)

// Event is one discrete observer notification. The UI consumes these
// without coupling the pipeline to any rendering mechanism.
type Event struct {
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	Phase          model.Phase `json:"phase,omitempty"`
	Delta          string      `json:"delta,omitempty"`
	Content        string      `json:"content,omitempty"`
	Questions      []string    `json:"questions,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// EventSink receives pipeline events in emission order. A nil sink is
// allowed and discards everything.
type EventSink func(Event)
