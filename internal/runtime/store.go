// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrStreamActive indicates the conversation already has an active
	// text stream. A conversation streams at most one message at a time.
	ErrStreamActive = errors.New("stream already active for conversation")

	// ErrNoStream indicates no stream is active for the conversation.
	ErrNoStream = errors.New("no active stream for conversation")

	// ErrStreamMismatch indicates the stream id does not match the
	// active stream.
	ErrStreamMismatch = errors.New("stream id does not match active stream")
)

// =============================================================================
// RUNTIME STATE STORE
// =============================================================================

// Store tracks everything that exists only because of in-flight activity.
// State is created lazily on first interaction with a conversation and
// dropped once the conversation is idle and not in view.
//
// A conversation has at most one active text stream but any number of
// concurrent media placeholders, each addressable by its own task id.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversationState
	touchOrder    []string // most recently touched last
	maxRetained   int
}

// conversationState is the transient state of one conversation.
type conversationState struct {
	optimistic   []*model.Message
	placeholders []*model.Message
	stream       *streamState
}

// streamState is the single in-flight text stream of a conversation.
// Content accumulates in a strings.Builder so repeated appends stay
// linear rather than quadratic.
type streamState struct {
	msg     *model.Message
	content strings.Builder
	modelID string
}

// active reports whether any in-flight work references this state.
func (cs *conversationState) active() bool {
	return cs.stream != nil || len(cs.placeholders) > 0 || len(cs.optimistic) > 0
}

// Snapshot is a point-in-time copy of one conversation's runtime state,
// safe to merge without holding the store lock.
type Snapshot struct {
	Optimistic   []*model.Message
	Placeholders []*model.Message

	// Stream is the synthetic streaming entry with accumulated content,
	// or nil when no stream is active.
	Stream *model.Message
}

// NewStore creates a runtime state store retaining transient state for at
// most maxRetained idle-capable conversations (default: 20). Conversations
// with in-flight work are always retained regardless of the bound.
func NewStore(maxRetained int) *Store {
	if maxRetained <= 0 {
		maxRetained = 20
	}
	return &Store{
		conversations: make(map[string]*conversationState),
		maxRetained:   maxRetained,
	}
}

// =============================================================================
// OPTIMISTIC MESSAGES
// =============================================================================

// AddOptimisticUserMessage records a provisional user message so the UI
// can show it before the server responds.
func (s *Store) AddOptimisticUserMessage(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.ensureLocked(msg.ConversationID)
	cs.optimistic = append(cs.optimistic, msg.Clone())
}

// TakeOptimistic removes and returns the provisional message with the
// given client request id. Returns false if no such entry exists, which
// happens when confirmation arrives before registration or after a
// duplicate confirm.
func (s *Store) TakeOptimistic(conversationID, clientRequestID string) (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok {
		return nil, false
	}
	for i, m := range cs.optimistic {
		if m.ClientRequestID == clientRequestID {
			cs.optimistic = append(cs.optimistic[:i], cs.optimistic[i+1:]...)
			s.maybeDropLocked(conversationID)
			return m, true
		}
	}
	return nil, false
}

// MarkOptimisticFailed flags a provisional message as failed in place.
// The entry stays visible with its provisional id; retry means a new send
// with a fresh client request id.
func (s *Store) MarkOptimisticFailed(conversationID, clientRequestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for _, m := range cs.optimistic {
		if m.ClientRequestID == clientRequestID {
			m.IsError = true
			return true
		}
	}
	return false
}

// =============================================================================
// STREAMING
// =============================================================================

// StartStreaming opens the streaming slot for a conversation. Fails with
// ErrStreamActive if a stream is already in flight.
func (s *Store) StartStreaming(msg *model.Message, modelID string) error {
	if msg.ID.Kind != model.KindStream {
		return fmt.Errorf("message %s is not a stream entry", msg.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.ensureLocked(msg.ConversationID)
	if cs.stream != nil {
		return ErrStreamActive
	}
	cs.stream = &streamState{msg: msg.Clone(), modelID: modelID}
	return nil
}

// AppendStreamingContent appends a chunk to the active stream. Chunks are
// applied in call order; there is no reordering buffer.
func (s *Store) AppendStreamingContent(conversationID, streamID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok || cs.stream == nil {
		return ErrNoStream
	}
	if cs.stream.msg.ID.Value != streamID {
		return ErrStreamMismatch
	}
	cs.stream.content.WriteString(text)
	return nil
}

// CompleteStreaming closes the stream slot and returns the accumulated
// message (still carrying its stream identity; the caller promotes it).
func (s *Store) CompleteStreaming(conversationID, streamID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok || cs.stream == nil {
		return nil, ErrNoStream
	}
	if cs.stream.msg.ID.Value != streamID {
		return nil, ErrStreamMismatch
	}

	msg := cs.stream.msg
	msg.Content = cs.stream.content.String()
	cs.stream = nil
	s.maybeDropLocked(conversationID)
	return msg, nil
}

// StreamingContent returns the text accumulated so far, if a stream with
// the given id is active.
func (s *Store) StreamingContent(conversationID, streamID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok || cs.stream == nil || cs.stream.msg.ID.Value != streamID {
		return "", false
	}
	return cs.stream.content.String(), true
}

// =============================================================================
// MEDIA PLACEHOLDERS
// =============================================================================

// AddMediaPlaceholder records a generation placeholder. Multiple
// placeholders may be pending in the same conversation.
func (s *Store) AddMediaPlaceholder(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.ensureLocked(msg.ConversationID)
	cs.placeholders = append(cs.placeholders, msg.Clone())
}

// TakePlaceholder removes and returns the placeholder owned by taskID.
// The caller swaps in the final (or error) message at the placeholder's
// position by reusing its CreatedAt.
func (s *Store) TakePlaceholder(conversationID, taskID string) (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok {
		return nil, false
	}
	want := model.PlaceholderID(taskID)
	for i, m := range cs.placeholders {
		if m.ID == want {
			cs.placeholders = append(cs.placeholders[:i], cs.placeholders[i+1:]...)
			s.maybeDropLocked(conversationID)
			return m, true
		}
	}
	return nil, false
}

// PlaceholderCount returns the number of pending placeholders.
func (s *Store) PlaceholderCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	return len(cs.placeholders)
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// IsGenerating reports whether a stream is active or at least one media
// placeholder is pending. This is the single flag the input UI gates on.
func (s *Store) IsGenerating(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	return cs.stream != nil || len(cs.placeholders) > 0
}

// HasActivity reports whether any transient state (including unconfirmed
// optimistic messages) exists for the conversation. Used by eviction
// guards.
func (s *Store) HasActivity(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationID]
	return ok && cs.active()
}

// Snapshot returns copies of the conversation's transient entries for the
// merge algorithm. The streaming entry carries its accumulated content.
func (s *Store) Snapshot(conversationID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	cs, ok := s.conversations[conversationID]
	if !ok {
		return snap
	}

	snap.Optimistic = make([]*model.Message, len(cs.optimistic))
	for i, m := range cs.optimistic {
		snap.Optimistic[i] = m.Clone()
	}
	snap.Placeholders = make([]*model.Message, len(cs.placeholders))
	for i, m := range cs.placeholders {
		snap.Placeholders[i] = m.Clone()
	}
	if cs.stream != nil {
		msg := cs.stream.msg.Clone()
		msg.Content = cs.stream.content.String()
		snap.Stream = msg
	}
	return snap
}

// =============================================================================
// RETENTION
// =============================================================================

// ensureLocked returns the conversation state, creating it lazily and
// pruning idle states over the retention bound.
func (s *Store) ensureLocked(conversationID string) *conversationState {
	cs, ok := s.conversations[conversationID]
	if !ok {
		cs = &conversationState{}
		s.conversations[conversationID] = cs
	}
	s.touchLocked(conversationID)
	s.pruneLocked(conversationID)
	return cs
}

func (s *Store) touchLocked(conversationID string) {
	for i, id := range s.touchOrder {
		if id == conversationID {
			s.touchOrder = append(s.touchOrder[:i], s.touchOrder[i+1:]...)
			break
		}
	}
	s.touchOrder = append(s.touchOrder, conversationID)
}

// maybeDropLocked discards a state record that went idle.
func (s *Store) maybeDropLocked(conversationID string) {
	cs, ok := s.conversations[conversationID]
	if !ok || cs.active() {
		return
	}
	delete(s.conversations, conversationID)
	for i, id := range s.touchOrder {
		if id == conversationID {
			s.touchOrder = append(s.touchOrder[:i], s.touchOrder[i+1:]...)
			break
		}
	}
}

// pruneLocked drops the least recently touched idle states over the
// retention bound. States with in-flight work are never pruned, and
// neither is keep: its caller is about to append an in-flight entry to
// the freshly created (still empty, so not yet active) state.
func (s *Store) pruneLocked(keep string) {
	if len(s.conversations) <= s.maxRetained {
		return
	}
	over := len(s.conversations) - s.maxRetained
	for i := 0; i < len(s.touchOrder) && over > 0; {
		id := s.touchOrder[i]
		cs := s.conversations[id]
		if id == keep || (cs != nil && cs.active()) {
			i++
			continue
		}
		delete(s.conversations, id)
		s.touchOrder = append(s.touchOrder[:i], s.touchOrder[i+1:]...)
		over--
	}
}
