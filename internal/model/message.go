// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MEDIA URL LIST
// =============================================================================

// MediaURLs is an ordered list of media URLs attached to a message.
// The backend wire format is a single comma-joined string; the adapters
// below keep that contract at the transport edge.
type MediaURLs []string

// JoinMediaURLs renders the comma-joined wire form. Empty list renders
// as the empty string.
func JoinMediaURLs(urls MediaURLs) string {
	return strings.Join(urls, ",")
}

// SplitMediaURLs parses the comma-joined wire form. Empty input yields
// a nil list; blank segments are dropped.
func SplitMediaURLs(s string) MediaURLs {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	urls := make(MediaURLs, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			urls = append(urls, p)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is the atomic unit of conversation content.
//
// A message belongs to exactly one conversation for its lifetime. It is
// created in one of three states: optimistic (provisional id, held in the
// runtime store), confirmed (server id, promoted into the cache), or
// placeholder (stand-in for an in-progress generation, later replaced in
// place).
type Message struct {
	// Identity
	ID             MessageID
	ConversationID string
	Role           Role
	CreatedAt      time.Time

	// Content
	Content   string
	ImageURLs MediaURLs
	VideoURLs MediaURLs

	// ClientRequestID correlates an optimistic user message with its
	// server confirmation. Set only on not-yet-confirmed user messages
	// and preserved on the confirmed counterpart for deduplication.
	ClientRequestID string

	// IsError marks a failed generation surfaced as transcript content.
	IsError bool

	// Opaque metadata passed through, not interpreted by the engine.
	CreditsCost      int
	GenerationParams map[string]string
}

// NewOptimisticUserMessage creates the client-side user message shown
// before any network round-trip completes.
func NewOptimisticUserMessage(clock *Clock, conversationID, content string) *Message {
	reqID := uuid.New().String()
	return &Message{
		ID:              ProvisionalID(reqID),
		ConversationID:  conversationID,
		Role:            RoleUser,
		Content:         content,
		CreatedAt:       clock.Now(),
		ClientRequestID: reqID,
	}
}

// NewMediaPlaceholder creates the stand-in assistant message for an
// outstanding generation task.
func NewMediaPlaceholder(clock *Clock, conversationID, taskID, notice string) *Message {
	return &Message{
		ID:             PlaceholderID(taskID),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        notice,
		CreatedAt:      clock.Now(),
	}
}

// NewStreamingMessage creates the synthetic entry for an in-flight text
// stream. Content starts empty and accumulates in the runtime store.
func NewStreamingMessage(clock *Clock, conversationID, streamID string) *Message {
	return &Message{
		ID:             StreamID(streamID),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		CreatedAt:      clock.Now(),
	}
}

// NewErrorMessage creates an assistant-role error entry. The transcript is
// the error-reporting channel: failures render inline, never vanish.
func NewErrorMessage(clock *Clock, conversationID, reason string) *Message {
	return &Message{
		ID:             ErrorID(uuid.New().String()),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        reason,
		CreatedAt:      clock.Now(),
		IsError:        true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Clone returns an independent copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	if m.ImageURLs != nil {
		cp.ImageURLs = append(MediaURLs(nil), m.ImageURLs...)
	}
	if m.VideoURLs != nil {
		cp.VideoURLs = append(MediaURLs(nil), m.VideoURLs...)
	}
	if m.GenerationParams != nil {
		cp.GenerationParams = make(map[string]string, len(m.GenerationParams))
		for k, v := range m.GenerationParams {
			cp.GenerationParams[k] = v
		}
	}
	return &cp
}

// HasMedia returns true if the message carries image or video URLs.
func (m *Message) HasMedia() bool {
	return len(m.ImageURLs) > 0 || len(m.VideoURLs) > 0
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content and no media.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && !m.HasMedia()
}
