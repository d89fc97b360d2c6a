// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// MONOTONIC CLOCK
// =============================================================================

// Clock issues strictly increasing timestamps for locally created messages.
//
// Sorting in the unified view is by CreatedAt, so two messages created in
// the same wall-clock millisecond (a user message and its response
// placeholder, typically) must still carry distinct, ordered timestamps.
// Clock reads the wall clock but never returns a time at or before the
// previous one: equal or earlier readings are bumped by one microsecond.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

// NewClock creates a clock. One instance is shared per engine; timestamps
// from different Clock instances carry no ordering guarantee.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns a timestamp strictly after every previous Now result.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

// Observe folds an externally assigned timestamp (a server CreatedAt)
// into the clock so later local timestamps sort after it.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t = t.UTC()
	if t.After(c.last) {
		c.last = t
	}
}
