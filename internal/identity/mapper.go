// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"errors"
	"sync"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
)

// ErrNotProvisional indicates a message without a provisional identity
// was passed to RegisterProvisional.
var ErrNotProvisional = errors.New("message does not carry a provisional id")

// =============================================================================
// IDENTITY MAPPER
// =============================================================================

// Mapper promotes provisional messages into the confirmed cache once the
// server assigns them a permanent id.
//
// Confirm is idempotent per client request id, and tolerates confirmation
// arriving before registration: the confirmed message is then appended
// directly so it is never lost, at the cost of a possible transient
// duplicate the unified view deduplicates by request id.
type Mapper struct {
	mu sync.Mutex

	// promoted records request ids that have already been confirmed,
	// mapping to the server id they were promoted under.
	promoted map[string]string

	runtime *runtime.Store
	cache   *cache.Store
}

// NewMapper creates a mapper over the given stores.
func NewMapper(rt *runtime.Store, c *cache.Store) *Mapper {
	return &Mapper{
		promoted: make(map[string]string),
		runtime:  rt,
		cache:    c,
	}
}

// RegisterProvisional records a provisional user message in the runtime
// store, keyed by its client request id.
func (m *Mapper) RegisterProvisional(msg *model.Message) error {
	if msg.ID.Kind != model.KindProvisional || msg.ClientRequestID == "" {
		return ErrNotProvisional
	}
	m.runtime.AddOptimisticUserMessage(msg)
	return nil
}

// Confirm promotes the provisional message correlated by clientRequestID
// into the cache under its server-assigned identity.
//
// If the provisional entry is found it is replaced in place: the confirmed
// message keeps the provisional creation timestamp, so it renders at the
// same conversation position. If not found (confirmation raced ahead of
// registration, or a duplicate send was retired), the confirmed message is
// appended directly. Calling Confirm again with the same request id is a
// no-op.
func (m *Mapper) Confirm(conversationID, clientRequestID, serverID string, serverMsg *model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.promoted[clientRequestID]; done {
		return
	}
	if m.cache.ContainsID(conversationID, model.ConfirmedID(serverID)) {
		m.promoted[clientRequestID] = serverID
		return
	}

	confirmed := serverMsg.Clone()
	confirmed.ID = model.ConfirmedID(serverID)
	confirmed.ConversationID = conversationID
	confirmed.ClientRequestID = clientRequestID

	if provisional, ok := m.runtime.TakeOptimistic(conversationID, clientRequestID); ok {
		// Same position: the provisional timestamp is the sort key the
		// user already saw this message at.
		confirmed.CreatedAt = provisional.CreatedAt
	}
	m.cache.Append(conversationID, confirmed)
	m.promoted[clientRequestID] = serverID
}

// Promoted returns the server id a request id was confirmed under.
func (m *Mapper) Promoted(clientRequestID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.promoted[clientRequestID]
	return id, ok
}
