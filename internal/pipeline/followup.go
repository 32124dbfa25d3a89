package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/llm"
	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
	"github.com/inquire-x/reflective-chat/pkg/metrics"
)

const (
	// followUpContextSize is how many trailing messages form the context.
	followUpContextSize = 4
	// maxFollowUpQuestions caps the patched-in follow-up list.
	maxFollowUpQuestions = 3
)

// FollowUpGenerator enriches a completed message with suggested follow-up
// questions. Every failure is swallowed: follow-ups never block or fail the
// reply they belong to.
type FollowUpGenerator struct {
	store  *store.Store
	client *llm.Client
	logger *logger.Logger
}

// NewFollowUpGenerator creates a follow-up generator.
func NewFollowUpGenerator(st *store.Store, client *llm.Client, log *logger.Logger) *FollowUpGenerator {
	return &FollowUpGenerator{store: st, client: client, logger: log}
}

// Generate requests follow-up questions for a completed message and patches
// them in. It runs strictly after the message reached the complete phase.
func (g *FollowUpGenerator) Generate(ctx context.Context, conversationID, messageID string, sink EventSink) {
	conv, ok := g.store.Conversation(conversationID)
	if !ok {
		return
	}
	settings := g.store.Settings()

	raw, err := g.client.FollowUp(ctx, &llm.FollowUpRequest{
		Context:        buildContext(conv.Messages),
		APIKey:         settings.APIKey,
		Model:          settings.Model,
		FollowUpPrompt: settings.FollowUpPrompt,
	})
	if err != nil {
		g.logger.Warn("follow-up generation failed", zap.Error(err),
			zap.String("conversation_id", conversationID))
		metrics.RecordFollowUp("error")
		return
	}

	questions := cleanQuestions(raw)
	if len(questions) == 0 {
		metrics.RecordFollowUp("empty")
		return
	}

	g.store.PatchMessage(conversationID, messageID, model.MessagePatch{
		FollowUpQuestions: questions,
	})
	if sink != nil {
		sink(Event{
			Type:           EventFollowUps,
			ConversationID: conversationID,
			MessageID:      messageID,
			Questions:      questions,
		})
	}
	metrics.RecordFollowUp("success")
}

// buildContext role-labels the last few messages and joins them.
func buildContext(messages []model.Message) string {
	start := len(messages) - followUpContextSize
	if start < 0 {
		start = 0
	}

	parts := make([]string, 0, followUpContextSize)
	for _, msg := range messages[start:] {
		label := "AI"
		if msg.Role == model.RoleUser {
			label = "User"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", label, msg.Content))
	}
	return strings.Join(parts, "\n\n")
}

// cleanQuestions trims, drops empties and keeps at most the first three.
func cleanQuestions(raw []string) []string {
	out := make([]string, 0, maxFollowUpQuestions)
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxFollowUpQuestions {
			break
		}
	}
	return out
}
