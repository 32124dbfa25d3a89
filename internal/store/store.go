// Package store owns all conversation and message state.
//
// The Store is the single authoritative registry: every other component
// mutates conversations only through its operations. Each mutation is a
// synchronous call followed by a write-through of the persistent subtree
// (conversations and settings) to the configured Persister.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/pkg/logger"
	"github.com/inquire-x/reflective-chat/pkg/metrics"
)

// Snapshot is the persisted subtree: conversations and settings only.
// Transient state (the busy flag, live stream buffers) is never persisted.
type Snapshot struct {
	Conversations []model.Conversation `json:"conversations"`
	Settings      model.Settings       `json:"settings"`
}

// Persister writes a snapshot blob to durable storage.
type Persister interface {
	Save(snap *Snapshot) error
}

// Store is the single-writer conversation registry.
type Store struct {
	mu sync.RWMutex

	conversations []*model.Conversation
	currentID     string
	settings      model.Settings

	persister Persister
	logger    *logger.Logger
}

// New creates a store with the given persisted snapshot. A nil snapshot
// starts empty with default settings.
func New(snap *Snapshot, persister Persister, log *logger.Logger) *Store {
	s := &Store{
		settings:  model.DefaultSettings(),
		persister: persister,
		logger:    log,
	}
	if snap != nil {
		for i := range snap.Conversations {
			conv := snap.Conversations[i]
			s.conversations = append(s.conversations, &conv)
		}
		s.settings = snap.Settings
	}
	return s
}

// CreateConversation allocates a new conversation, prepends it to the list
// and marks it current. It returns the new conversation's id.
func (s *Store) CreateConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     model.DefaultTitle,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	s.currentID = conv.ID

	metrics.ConversationsTotal.Inc()
	s.persist()
	return conv.ID
}

// DeleteConversation removes the conversation. If it was current, current
// becomes unset. Unknown ids are a no-op.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, conv := range s.conversations {
		if conv.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			if s.currentID == id {
				s.currentID = ""
			}
			s.persist()
			return
		}
	}
}

// SetCurrent marks a conversation as current.
func (s *Store) SetCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = id
}

// CurrentID returns the current conversation id, or "" if unset.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// AppendMessage assigns a fresh id and timestamp, appends the message to
// the conversation and applies the title-derivation rule: the first message
// ever appended, when user-authored, sets the title exactly once. The
// populated message is returned. Unknown conversation ids are a silent
// no-op; callers are expected to have validated them.
func (s *Store) AppendMessage(conversationID string, msg model.Message) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return model.Message{}, false
	}

	msg.ID = uuid.Must(uuid.NewV7()).String()
	msg.Timestamp = time.Now()

	if len(conv.Messages) == 0 && msg.Role == model.RoleUser {
		conv.Title = model.DeriveTitle(msg.Content)
	}

	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()

	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	s.persist()
	return msg, true
}

// PatchMessage shallow-merges the non-nil patch fields into the matching
// message. A missing conversation or message is a no-op.
func (s *Store) PatchMessage(conversationID, messageID string, patch model.MessagePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return
	}

	for i := range conv.Messages {
		if conv.Messages[i].ID != messageID {
			continue
		}
		if patch.Content != nil {
			conv.Messages[i].Content = *patch.Content
		}
		if patch.ThinkingPhase != nil {
			conv.Messages[i].ThinkingPhase = *patch.ThinkingPhase
		}
		if patch.FollowUpQuestions != nil {
			conv.Messages[i].FollowUpQuestions = patch.FollowUpQuestions
		}
		conv.UpdatedAt = time.Now()
		s.persist()
		return
	}
}

// RemoveMessage removes the message from the conversation. A missing
// conversation or message is a no-op.
func (s *Store) RemoveMessage(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return
	}

	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			conv.UpdatedAt = time.Now()
			s.persist()
			return
		}
	}
}

// Conversation returns a copy of the conversation.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.find(id)
	if conv == nil {
		return model.Conversation{}, false
	}
	return copyConversation(conv), true
}

// Conversations returns copies of all conversations in list order.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, copyConversation(conv))
	}
	return out
}

// Settings returns the current settings.
func (s *Store) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySettings(s.settings)
}

// UpdateSettings shallow-merges the non-nil patch fields into the settings.
func (s *Store) UpdateSettings(patch model.SettingsPatch) model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.Username != nil {
		s.settings.Username = *patch.Username
	}
	if patch.APIKey != nil {
		s.settings.APIKey = *patch.APIKey
	}
	if patch.Model != nil {
		s.settings.Model = *patch.Model
	}
	if patch.SystemPrompt != nil {
		s.settings.SystemPrompt = *patch.SystemPrompt
	}
	if patch.FollowUpPrompt != nil {
		s.settings.FollowUpPrompt = *patch.FollowUpPrompt
	}
	if patch.Temperature != nil {
		s.settings.Temperature = *patch.Temperature
	}
	if patch.EnablePipeline != nil {
		s.settings.EnablePipeline = *patch.EnablePipeline
	}
	if patch.RecommendedQuestions != nil {
		s.settings.RecommendedQuestions = patch.RecommendedQuestions
	}

	s.persist()
	return copySettings(s.settings)
}

// ResetSettings restores the default settings.
func (s *Store) ResetSettings() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = model.DefaultSettings()
	s.persist()
	return copySettings(s.settings)
}

// snapshot builds the persisted subtree. Caller must hold the lock.
func (s *Store) snapshot() *Snapshot {
	snap := &Snapshot{
		Conversations: make([]model.Conversation, 0, len(s.conversations)),
		Settings:      copySettings(s.settings),
	}
	for _, conv := range s.conversations {
		snap.Conversations = append(snap.Conversations, copyConversation(conv))
	}
	return snap
}

// persist writes through to durable storage. Caller must hold the lock.
// Persistence failures are logged, not surfaced: the in-memory state is
// authoritative for the rest of the session.
func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshot()); err != nil {
		s.logger.Error("failed to persist state", zap.Error(err))
	}
}

func (s *Store) find(id string) *model.Conversation {
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

func copyConversation(conv *model.Conversation) model.Conversation {
	out := *conv
	out.Messages = make([]model.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	for i := range out.Messages {
		if qs := out.Messages[i].FollowUpQuestions; qs != nil {
			out.Messages[i].FollowUpQuestions = append([]string(nil), qs...)
		}
	}
	return out
}

func copySettings(settings model.Settings) model.Settings {
	out := settings
	if settings.RecommendedQuestions != nil {
		out.RecommendedQuestions = append([]string(nil), settings.RecommendedQuestions...)
	}
	return out
}
