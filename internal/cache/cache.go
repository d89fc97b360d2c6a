// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// MESSAGE CACHE
// =============================================================================

// Store keeps the confirmed message sequence of recently viewed
// conversations. A bounded number of conversations are retained in full;
// the least recently used are dropped and must be reloaded from the
// transport layer or local history.
//
// Callers guarantee CreatedAt ordering on Append; the unified view's
// timestamp sort is the safety net, not the primary ordering mechanism.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversationEntry
	accessOrder   []string // LRU order, most recent last
	maxEntries    int

	// protect reports conversations eviction must never touch: the one
	// currently in view and any with an outstanding task or stream.
	protect func(conversationID string) bool

	// onAppend observes every appended message. The engine uses it to
	// write confirmed messages through to local history.
	onAppend func(conversationID string, msg *model.Message)

	// Statistics
	hits   int
	misses int
}

// conversationEntry holds the loaded message sequence of one conversation.
type conversationEntry struct {
	messages []*model.Message
}

// Stats holds cache statistics.
type Stats struct {
	Hits          int
	Misses        int
	Conversations int
	Messages      int
}

// NewStore creates a message cache retaining at most maxConversations
// conversations (default: 10).
func NewStore(maxConversations int) *Store {
	if maxConversations <= 0 {
		maxConversations = 10
	}
	return &Store{
		conversations: make(map[string]*conversationEntry),
		accessOrder:   make([]string, 0, maxConversations),
		maxEntries:    maxConversations,
	}
}

// SetProtectFunc installs the eviction guard. Pass nil to clear.
func (s *Store) SetProtectFunc(fn func(conversationID string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protect = fn
}

// SetAppendFunc installs the append observer. Pass nil to clear. The
// observer runs outside the cache lock with its own clone.
func (s *Store) SetAppendFunc(fn func(conversationID string, msg *model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Append inserts a confirmed message at the end of its conversation.
// The conversation entry is created if absent.
func (s *Store) Append(conversationID string, msg *model.Message) {
	s.mu.Lock()
	entry := s.ensureLocked(conversationID)
	entry.messages = append(entry.messages, msg.Clone())
	s.touchLocked(conversationID)
	s.evictLocked()
	observer := s.onAppend
	s.mu.Unlock()

	if observer != nil {
		observer(conversationID, msg.Clone())
	}
}

// Replace swaps the message with the given id for newMsg, keeping its
// position. No-op if the conversation or id is not present; callers use
// Append for genuinely new messages.
func (s *Store) Replace(conversationID string, id model.MessageID, newMsg *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for i, m := range entry.messages {
		if m.ID == id {
			entry.messages[i] = newMsg.Clone()
			s.touchLocked(conversationID)
			return true
		}
	}
	return false
}

// Remove deletes the message with the given id from its conversation.
func (s *Store) Remove(conversationID string, id model.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for i, m := range entry.messages {
		if m.ID == id {
			entry.messages = append(entry.messages[:i], entry.messages[i+1:]...)
			return true
		}
	}
	return false
}

// SetMessages replaces the whole sequence of a conversation, marking it
// loaded. Used when hydrating from the transport layer or local history.
func (s *Store) SetMessages(conversationID string, msgs []*model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.ensureLocked(conversationID)
	entry.messages = make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		entry.messages = append(entry.messages, m.Clone())
	}
	s.touchLocked(conversationID)
	s.evictLocked()
}

// Drop removes a conversation from the cache entirely.
func (s *Store) Drop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(conversationID)
}

// =============================================================================
// READS
// =============================================================================

// Get returns the ordered confirmed sequence of a conversation, and
// whether the conversation is loaded at all. The returned slice is a copy.
func (s *Store) Get(conversationID string) ([]*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.conversations[conversationID]
	if !ok {
		s.misses++
		return nil, false
	}
	s.hits++
	s.touchLocked(conversationID)

	out := make([]*model.Message, len(entry.messages))
	for i, m := range entry.messages {
		out[i] = m.Clone()
	}
	return out, true
}

// IsLoaded reports whether the conversation is resident without touching
// LRU order or statistics.
func (s *Store) IsLoaded(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok
}

// ContainsID reports whether a message with the given id is present.
func (s *Store) ContainsID(conversationID string, id model.MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for _, m := range entry.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// ContainsRequestID reports whether a confirmed message correlated to the
// given client request id is present.
func (s *Store) ContainsRequestID(conversationID, clientRequestID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for _, m := range entry.messages {
		if m.ClientRequestID == clientRequestID {
			return true
		}
	}
	return false
}

// GetStats returns cache statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, e := range s.conversations {
		total += len(e.messages)
	}
	return Stats{
		Hits:          s.hits,
		Misses:        s.misses,
		Conversations: len(s.conversations),
		Messages:      total,
	}
}

// =============================================================================
// EVICTION
// =============================================================================

// ensureLocked returns the conversation entry, creating it if absent.
func (s *Store) ensureLocked(conversationID string) *conversationEntry {
	entry, ok := s.conversations[conversationID]
	if !ok {
		entry = &conversationEntry{}
		s.conversations[conversationID] = entry
		s.accessOrder = append(s.accessOrder, conversationID)
	}
	return entry
}

// touchLocked moves a conversation to the most-recently-used position.
func (s *Store) touchLocked(conversationID string) {
	for i, id := range s.accessOrder {
		if id == conversationID {
			s.accessOrder = append(s.accessOrder[:i], s.accessOrder[i+1:]...)
			break
		}
	}
	s.accessOrder = append(s.accessOrder, conversationID)
}

// removeLocked drops a conversation and its access-order slot.
func (s *Store) removeLocked(conversationID string) {
	if _, ok := s.conversations[conversationID]; !ok {
		return
	}
	delete(s.conversations, conversationID)
	for i, id := range s.accessOrder {
		if id == conversationID {
			s.accessOrder = append(s.accessOrder[:i], s.accessOrder[i+1:]...)
			break
		}
	}
}

// evictLocked drops least-recently-used conversations over the bound,
// skipping protected ones. If every candidate is protected the cache may
// temporarily exceed its bound; protection wins over the limit.
func (s *Store) evictLocked() {
	if len(s.conversations) <= s.maxEntries {
		return
	}

	over := len(s.conversations) - s.maxEntries
	for i := 0; i < len(s.accessOrder) && over > 0; {
		id := s.accessOrder[i]
		if s.protect != nil && s.protect(id) {
			i++
			continue
		}
		s.removeLocked(id)
		over--
		// accessOrder shifted left; the same index now holds the next id
	}
}
