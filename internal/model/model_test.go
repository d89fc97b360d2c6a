// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"testing"
	"time"
)

func TestClockStrictlyIncreasing(t *testing.T) {
	clock := NewClock()

	prev := clock.Now()
	for i := 0; i < 10000; i++ {
		next := clock.Now()
		if !next.After(prev) {
			t.Fatalf("timestamp %v not after previous %v (iteration %d)", next, prev, i)
		}
		prev = next
	}
}

func TestClockConcurrent(t *testing.T) {
	clock := NewClock()

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ts := clock.Now().UnixNano()
				mu.Lock()
				if seen[ts] {
					mu.Unlock()
					t.Errorf("duplicate timestamp %d", ts)
					return
				}
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestClockObserve(t *testing.T) {
	clock := NewClock()

	future := time.Now().Add(time.Hour).UTC()
	clock.Observe(future)

	if got := clock.Now(); !got.After(future) {
		t.Errorf("expected timestamp after observed %v, got %v", future, got)
	}

	// Observing the past must not rewind the clock.
	latest := clock.Now()
	clock.Observe(time.Now().Add(-time.Hour))
	if got := clock.Now(); !got.After(latest) {
		t.Errorf("clock rewound after observing past time: %v <= %v", got, latest)
	}
}

func TestMessageIDRoundTrip(t *testing.T) {
	cases := []MessageID{
		ConfirmedID("m-1"),
		ProvisionalID("req-abc"),
		PlaceholderID("task-xyz"),
		StreamID("s1"),
		ErrorID("e1"),
	}

	for _, id := range cases {
		parsed := ParseMessageID(id.String())
		if parsed != id {
			t.Errorf("round trip failed: %+v -> %q -> %+v", id, id.String(), parsed)
		}
	}
}

func TestMessageIDPrefixes(t *testing.T) {
	if got := ProvisionalID("x").String(); got != "temp-x" {
		t.Errorf("provisional prefix: got %q", got)
	}
	if got := StreamID("x").String(); got != "streaming-x" {
		t.Errorf("stream prefix: got %q", got)
	}
	if got := ErrorID("x").String(); got != "error-x" {
		t.Errorf("error prefix: got %q", got)
	}
	if got := ConfirmedID("uuid-looking").String(); got != "uuid-looking" {
		t.Errorf("confirmed id should be bare: got %q", got)
	}
}

func TestMediaURLsJoinSplit(t *testing.T) {
	urls := MediaURLs{"https://a/1.png", "https://a/2.png"}

	joined := JoinMediaURLs(urls)
	if joined != "https://a/1.png,https://a/2.png" {
		t.Errorf("unexpected join: %q", joined)
	}

	split := SplitMediaURLs(joined)
	if len(split) != 2 || split[0] != urls[0] || split[1] != urls[1] {
		t.Errorf("unexpected split: %v", split)
	}

	if SplitMediaURLs("") != nil {
		t.Error("empty string should split to nil")
	}
	if got := SplitMediaURLs(" , ,"); got != nil {
		t.Errorf("blank segments should be dropped, got %v", got)
	}
}

func TestOptimisticUserMessage(t *testing.T) {
	clock := NewClock()
	msg := NewOptimisticUserMessage(clock, "c1", "Hello")

	if msg.ID.Kind != KindProvisional {
		t.Error("optimistic message should carry a provisional id")
	}
	if msg.ClientRequestID == "" {
		t.Error("optimistic message needs a client request id")
	}
	if msg.ID.Value != msg.ClientRequestID {
		t.Error("provisional id value should be the client request id")
	}
	if msg.Role != RoleUser {
		t.Errorf("expected user role, got %s", msg.Role)
	}
}

func TestUserMessageSortsBeforePlaceholder(t *testing.T) {
	clock := NewClock()

	user := NewOptimisticUserMessage(clock, "c1", "draw a cat")
	ph := NewMediaPlaceholder(clock, "c1", "t1", "Generating image...")

	if !user.CreatedAt.Before(ph.CreatedAt) {
		t.Errorf("user message %v must sort before its placeholder %v",
			user.CreatedAt, ph.CreatedAt)
	}
}

func TestMessageClone(t *testing.T) {
	clock := NewClock()
	msg := NewMediaPlaceholder(clock, "c1", "t1", "Generating...")
	msg.ImageURLs = MediaURLs{"https://a/1.png"}
	msg.GenerationParams = map[string]string{"size": "1024x1024"}

	cp := msg.Clone()
	cp.ImageURLs[0] = "changed"
	cp.GenerationParams["size"] = "512x512"

	if msg.ImageURLs[0] != "https://a/1.png" {
		t.Error("clone shares ImageURLs backing array")
	}
	if msg.GenerationParams["size"] != "1024x1024" {
		t.Error("clone shares GenerationParams map")
	}
}
