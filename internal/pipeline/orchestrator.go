// Package pipeline drives the multi-phase reply pipeline.
//
// One reply is produced by a fixed sequence of generation requests:
// drafting, questioning and polishing when the pipeline is enabled, or a
// single polishing pass otherwise. Each phase feeds the accumulated text of
// the earlier phases back to the model; only the final phase streams into
// the visible message content. A process-wide busy gate keeps at most one
// orchestration in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/llm"
	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/internal/stream"
	"github.com/inquire-x/reflective-chat/pkg/logger"
	"github.com/inquire-x/reflective-chat/pkg/metrics"
)

var (
	// ErrBusy is returned while another orchestration is in flight.
	ErrBusy = errors.New("a reply pipeline is already running")
	// ErrMissingAPIKey is returned before any request when no API key is set.
	ErrMissingAPIKey = errors.New("API key is not configured")
	// ErrMissingModel is returned before any request when no model is set.
	ErrMissingModel = errors.New("model is not configured")
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned when regeneration cannot locate the
	// assistant message or a preceding user message.
	ErrMessageNotFound = errors.New("message not found")
)

// ReplySeparator joins phase outputs inside the synthetic assistant turn
// fed to later phases.
const ReplySeparator = "\n\n---\n\n"

// ApologyMessage replaces the message content when the pipeline aborts.
const ApologyMessage = "Sorry, the request failed. Please check your network connection and API key settings."

var phaseInstructions = map[model.Phase]string{
	model.PhaseQuestioning: "Review your previous answer and point out two or three places where it is imprecise, one-sided, or incomplete.",
	model.PhasePolishing:   "Based on your earlier answer and the critique, give the final polished reply. Integrate the reflection into a deeper, more complete answer. Use Markdown formatting.",
}

// Orchestrator produces one complete assistant message per Send or
// Regenerate call.
type Orchestrator struct {
	store     *store.Store
	client    *llm.Client
	followUps *FollowUpGenerator
	logger    *logger.Logger
	tracer    trace.Tracer

	// busy serializes all send/regenerate operations process-wide.
	busy atomic.Bool
}

// New creates an orchestrator backed by the given store and service client.
func New(st *store.Store, client *llm.Client, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		client:    client,
		followUps: NewFollowUpGenerator(st, client, log),
		logger:    log,
		tracer:    otel.Tracer("pipeline"),
	}
}

// Busy reports whether a pipeline is currently in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Send appends the user turn to the conversation and produces the assistant
// reply. It returns the new assistant message id. Events are delivered to
// sink in order; the returned error is nil when the pipeline completed.
func (o *Orchestrator) Send(ctx context.Context, conversationID, content string, sink EventSink) (string, error) {
	settings := o.store.Settings()
	if err := checkPreconditions(settings); err != nil {
		return "", err
	}

	if !o.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer o.busy.Store(false)

	conv, ok := o.store.Conversation(conversationID)
	if !ok {
		return "", ErrConversationNotFound
	}

	history := chatHistory(conv.Messages)
	history = append(history, model.ChatMessage{Role: string(model.RoleUser), Content: content})

	o.store.AppendMessage(conversationID, model.Message{
		Role:    model.RoleUser,
		Content: content,
	})

	return o.reply(ctx, conversationID, history, settings, sink)
}

// Regenerate removes an existing assistant message and re-runs the pipeline
// over the conversation history up to (excluding) it. The old message's
// follow-up questions are discarded with it. It returns the replacement
// message id.
func (o *Orchestrator) Regenerate(ctx context.Context, conversationID, messageID string, sink EventSink) (string, error) {
	settings := o.store.Settings()
	if err := checkPreconditions(settings); err != nil {
		return "", err
	}

	if !o.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer o.busy.Store(false)

	conv, ok := o.store.Conversation(conversationID)
	if !ok {
		return "", ErrConversationNotFound
	}

	idx := -1
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID && conv.Messages[i].Role == model.RoleAssistant {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ErrMessageNotFound
	}

	// The reply is regenerated for the nearest preceding user turn.
	hasUserTurn := false
	for i := idx - 1; i >= 0; i-- {
		if conv.Messages[i].Role == model.RoleUser {
			hasUserTurn = true
			break
		}
	}
	if !hasUserTurn {
		return "", ErrMessageNotFound
	}

	history := chatHistory(conv.Messages[:idx])
	o.store.RemoveMessage(conversationID, messageID)

	return o.reply(ctx, conversationID, history, settings, sink)
}

// reply runs the phase sequence for one assistant message. Callers hold the
// busy gate.
func (o *Orchestrator) reply(ctx context.Context, conversationID string, history []model.ChatMessage, settings model.Settings, sink EventSink) (string, error) {
	phases := model.PipelinePhases(settings.EnablePipeline)
	mode := "single"
	if settings.EnablePipeline {
		mode = "pipeline"
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.reply",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("pipeline.mode", mode),
		))
	defer span.End()

	msg, _ := o.store.AppendMessage(conversationID, model.Message{
		Role:          model.RoleAssistant,
		Content:       "",
		ThinkingPhase: phases[0],
	})

	log := o.logger.WithConversation(conversationID).With(zap.String("message_id", msg.ID))
	log.Info("pipeline started", zap.String("mode", mode))

	final, err := o.run(ctx, conversationID, msg.ID, history, settings, phases, sink)
	if err != nil {
		// A failed phase aborts the whole reply: no partial fallback,
		// no retry. The message becomes the fixed apology.
		log.Error("pipeline aborted", zap.Error(err))
		o.finalize(conversationID, msg.ID, ApologyMessage)
		o.emit(sink, Event{
			Type:           EventPipelineError,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Error:          err.Error(),
		})
		o.emit(sink, Event{
			Type:           EventComplete,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Phase:          model.PhaseComplete,
			Content:        ApologyMessage,
		})
		metrics.RecordPipeline(mode, "error")
		return msg.ID, err
	}

	o.finalize(conversationID, msg.ID, final)
	o.emit(sink, Event{
		Type:           EventComplete,
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Phase:          model.PhaseComplete,
		Content:        final,
	})
	metrics.RecordPipeline(mode, "success")
	log.Info("pipeline complete", zap.Int("content_length", len(final)))

	// Best-effort enrichment, strictly after the message is complete.
	o.followUps.Generate(ctx, conversationID, msg.ID, sink)

	return msg.ID, nil
}

// run executes the nominal phases in order and returns the final phase's
// accumulated text.
func (o *Orchestrator) run(ctx context.Context, conversationID, messageID string, history []model.ChatMessage, settings model.Settings, phases []model.Phase, sink EventSink) (string, error) {
	accumulated := ""
	lastText := ""

	for i, phase := range phases {
		start := time.Now()
		phaseCtx, span := o.tracer.Start(ctx, "pipeline.phase",
			trace.WithAttributes(attribute.String("phase", string(phase))))

		// The phase label is visible before the first network byte arrives.
		o.setPhase(conversationID, messageID, phase, sink)

		messages := history
		if i > 0 {
			messages = make([]model.ChatMessage, 0, len(history)+2)
			messages = append(messages, history...)
			messages = append(messages,
				model.ChatMessage{Role: string(model.RoleAssistant), Content: accumulated},
				model.ChatMessage{Role: string(model.RoleUser), Content: phaseInstructions[phase]},
			)
		}

		body, err := o.client.StreamChat(phaseCtx, &llm.GenerationRequest{
			Messages:     messages,
			APIKey:       settings.APIKey,
			Model:        settings.Model,
			SystemPrompt: settings.SystemPrompt,
			Phase:        string(phase),
			Username:     settings.Username,
			Temperature:  settings.Temperature,
		})
		if err != nil {
			span.RecordError(err)
			span.End()
			metrics.RecordPhase(string(phase), "error", time.Since(start).Seconds())
			return "", fmt.Errorf("phase %s: %w", phase, err)
		}

		isFinal := i == len(phases)-1
		text, err := o.drainPhase(body, conversationID, messageID, phase, isFinal, sink)
		if err != nil {
			span.RecordError(err)
			span.End()
			metrics.RecordPhase(string(phase), "error", time.Since(start).Seconds())
			return "", fmt.Errorf("phase %s: %w", phase, err)
		}

		if accumulated == "" {
			accumulated = text
		} else {
			accumulated += ReplySeparator + text
		}
		lastText = text

		metrics.RecordPhase(string(phase), "success", time.Since(start).Seconds())
		span.End()
	}

	return lastText, nil
}

// drainPhase decodes one phase's response stream to completion. On the
// final phase every content delta also patches the live message content, in
// decode order. Reasoning frames flip the visible phase to thinking until
// content resumes.
func (o *Orchestrator) drainPhase(body io.ReadCloser, conversationID, messageID string, phase model.Phase, isFinal bool, sink EventSink) (string, error) {
	defer body.Close()

	dec := stream.NewDecoder(body)
	thinking := false
	var text strings.Builder

	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stream read failed: %w", err)
		}

		switch frame.Kind {
		case stream.FrameReasoning:
			metrics.FramesTotal.WithLabelValues("reasoning").Inc()
			if !thinking {
				thinking = true
				o.setPhase(conversationID, messageID, model.PhaseThinking, sink)
			}

		case stream.FrameContent:
			metrics.FramesTotal.WithLabelValues("content").Inc()
			if thinking {
				// Content resumed: yield back to the interrupted stage.
				thinking = false
				o.setPhase(conversationID, messageID, phase, sink)
			}
			text.WriteString(frame.Text)
			if isFinal {
				content := text.String()
				o.store.PatchMessage(conversationID, messageID, model.MessagePatch{Content: &content})
				o.emit(sink, Event{
					Type:           EventContentDelta,
					ConversationID: conversationID,
					MessageID:      messageID,
					Delta:          frame.Text,
				})
			}
		}
	}

	return text.String(), nil
}

func (o *Orchestrator) setPhase(conversationID, messageID string, phase model.Phase, sink EventSink) {
	p := phase
	o.store.PatchMessage(conversationID, messageID, model.MessagePatch{ThinkingPhase: &p})
	o.emit(sink, Event{
		Type:           EventPhaseChange,
		ConversationID: conversationID,
		MessageID:      messageID,
		Phase:          phase,
	})
}

func (o *Orchestrator) finalize(conversationID, messageID, content string) {
	phase := model.PhaseComplete
	o.store.PatchMessage(conversationID, messageID, model.MessagePatch{
		Content:       &content,
		ThinkingPhase: &phase,
	})
}

func (o *Orchestrator) emit(sink EventSink, event Event) {
	if sink != nil {
		sink(event)
	}
}

func checkPreconditions(settings model.Settings) error {
	if strings.TrimSpace(settings.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(settings.Model) == "" {
		return ErrMissingModel
	}
	return nil
}

func chatHistory(messages []model.Message) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, model.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
