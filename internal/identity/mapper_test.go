// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"testing"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
)

func newFixture() (*model.Clock, *runtime.Store, *cache.Store, *Mapper) {
	clock := model.NewClock()
	rt := runtime.NewStore(0)
	c := cache.NewStore(0)
	return clock, rt, c, NewMapper(rt, c)
}

func serverMessage(clock *model.Clock, convID, content string) *model.Message {
	return &model.Message{
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      clock.Now(),
	}
}

func TestConfirmPromotesProvisional(t *testing.T) {
	clock, rt, c, mapper := newFixture()

	msg := model.NewOptimisticUserMessage(clock, "c1", "Hello")
	if err := mapper.RegisterProvisional(msg); err != nil {
		t.Fatal(err)
	}

	mapper.Confirm("c1", msg.ClientRequestID, "m-1", serverMessage(clock, "c1", "Hello"))

	// Provisional entry is gone from the runtime store.
	if snap := rt.Snapshot("c1"); len(snap.Optimistic) != 0 {
		t.Error("provisional entry should be consumed on confirm")
	}

	msgs, _ := c.Get("c1")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 cached message, got %d", len(msgs))
	}
	if msgs[0].ID != model.ConfirmedID("m-1") {
		t.Errorf("expected server id m-1, got %s", msgs[0].ID)
	}
	// Position preserved: confirmed message keeps provisional timestamp.
	if !msgs[0].CreatedAt.Equal(msg.CreatedAt) {
		t.Error("confirmed message should keep the provisional timestamp")
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	clock, _, c, mapper := newFixture()

	msg := model.NewOptimisticUserMessage(clock, "c1", "Hello")
	mapper.RegisterProvisional(msg)

	for i := 0; i < 3; i++ {
		mapper.Confirm("c1", msg.ClientRequestID, "m-1", serverMessage(clock, "c1", "Hello"))
	}

	msgs, _ := c.Get("c1")
	if len(msgs) != 1 {
		t.Errorf("repeated confirm created %d entries, want 1", len(msgs))
	}
}

func TestConfirmBeforeRegister(t *testing.T) {
	clock, _, c, mapper := newFixture()

	// Confirmation arrives with no matching provisional entry: the
	// message must still land in the cache, exactly once.
	mapper.Confirm("c1", "req-ghost", "m-9", serverMessage(clock, "c1", "Hi"))

	msgs, _ := c.Get("c1")
	if len(msgs) != 1 {
		t.Fatalf("expected fallback append, got %d messages", len(msgs))
	}
	if msgs[0].ID != model.ConfirmedID("m-9") {
		t.Errorf("unexpected id %s", msgs[0].ID)
	}
	if msgs[0].ClientRequestID != "req-ghost" {
		t.Error("fallback append must keep the request id for deduplication")
	}

	// A late duplicate confirm is still a no-op.
	mapper.Confirm("c1", "req-ghost", "m-9", serverMessage(clock, "c1", "Hi"))
	if msgs, _ := c.Get("c1"); len(msgs) != 1 {
		t.Error("late duplicate confirm must not duplicate the message")
	}
}

func TestConfirmDistinctRequests(t *testing.T) {
	clock, _, c, mapper := newFixture()

	a := model.NewOptimisticUserMessage(clock, "c1", "one")
	b := model.NewOptimisticUserMessage(clock, "c1", "two")
	mapper.RegisterProvisional(a)
	mapper.RegisterProvisional(b)

	mapper.Confirm("c1", b.ClientRequestID, "m-2", serverMessage(clock, "c1", "two"))
	mapper.Confirm("c1", a.ClientRequestID, "m-1", serverMessage(clock, "c1", "one"))

	msgs, _ := c.Get("c1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	if id, ok := mapper.Promoted(a.ClientRequestID); !ok || id != "m-1" {
		t.Errorf("promoted record wrong for a: %s %v", id, ok)
	}
}

func TestRegisterRejectsConfirmed(t *testing.T) {
	clock, _, _, mapper := newFixture()

	msg := serverMessage(clock, "c1", "not provisional")
	msg.ID = model.ConfirmedID("m-1")
	if err := mapper.RegisterProvisional(msg); err == nil {
		t.Error("registering a confirmed message should fail")
	}
}
