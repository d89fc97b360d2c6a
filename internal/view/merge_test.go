// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
)

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

func confirmedMsg(id string, sec int, content string) *model.Message {
	return &model.Message{
		ID:             model.ConfirmedID(id),
		ConversationID: "conv1",
		Role:           model.RoleAssistant,
		CreatedAt:      at(sec),
		Content:        content,
	}
}

func TestMergeEmpty(t *testing.T) {
	out := Merge(nil, runtime.Snapshot{})
	require.Empty(t, out)
}

func TestMergeConfirmedOnly(t *testing.T) {
	confirmed := []*model.Message{
		confirmedMsg("1", 1, "first"),
		confirmedMsg("2", 2, "second"),
	}
	out := Merge(confirmed, runtime.Snapshot{})
	require.Len(t, out, 2)
	require.Equal(t, "first", out[0].Content)
	require.Equal(t, "second", out[1].Content)
}

func TestMergeOverlayOrdering(t *testing.T) {
	confirmed := []*model.Message{
		confirmedMsg("1", 1, "hello"),
		confirmedMsg("2", 5, "reply"),
	}
	snap := runtime.Snapshot{
		Optimistic: []*model.Message{
			{
				ID:              model.ProvisionalID("req-a"),
				ConversationID:  "conv1",
				Role:            model.RoleUser,
				CreatedAt:       at(3),
				Content:         "pending",
				ClientRequestID: "req-a",
			},
		},
		Placeholders: []*model.Message{
			{
				ID:             model.PlaceholderID("t1"),
				ConversationID: "conv1",
				Role:           model.RoleAssistant,
				CreatedAt:      at(4),
				Content:        "Generating image...",
			},
		},
	}

	out := Merge(confirmed, snap)
	require.Len(t, out, 4)
	require.Equal(t, "hello", out[0].Content)
	require.Equal(t, "pending", out[1].Content)
	require.Equal(t, "Generating image...", out[2].Content)
	require.Equal(t, "reply", out[3].Content)
}

func TestMergeDedupesConfirmedOptimistic(t *testing.T) {
	server := confirmedMsg("srv-1", 2, "hi there")
	server.ClientRequestID = "req-a"

	snap := runtime.Snapshot{
		Optimistic: []*model.Message{
			{
				ID:              model.ProvisionalID("req-a"),
				CreatedAt:       at(1),
				Content:         "hi there",
				ClientRequestID: "req-a",
			},
		},
	}

	out := Merge([]*model.Message{server}, snap)
	require.Len(t, out, 1)
	require.True(t, out[0].ID.IsConfirmed())
}

func TestMergeDedupesReplacedPlaceholder(t *testing.T) {
	// The placeholder was replaced in the cache under its own id; the
	// runtime copy must not double-render while it is retired.
	replaced := &model.Message{
		ID:        model.PlaceholderID("t1"),
		CreatedAt: at(1),
		ImageURLs: model.MediaURLs{"https://cdn.example.com/a.png"},
	}
	snap := runtime.Snapshot{
		Placeholders: []*model.Message{
			{ID: model.PlaceholderID("t1"), CreatedAt: at(1), Content: "Generating image..."},
		},
	}

	out := Merge([]*model.Message{replaced}, snap)
	require.Len(t, out, 1)
	require.True(t, out[0].HasMedia())
}

func TestMergeStreamSortsByTimestamp(t *testing.T) {
	// The usual case: the stream began after everything on screen, so
	// it renders last.
	confirmed := []*model.Message{confirmedMsg("1", 1, "earlier confirmed")}
	snap := runtime.Snapshot{
		Stream: &model.Message{
			ID:        model.StreamID("s1"),
			CreatedAt: at(2),
			Content:   "partial tok",
		},
	}

	out := Merge(confirmed, snap)
	require.Len(t, out, 2)
	require.Equal(t, model.KindStream, out[1].ID.Kind)
}

func TestMergeEntryCreatedAfterStreamRendersAfterIt(t *testing.T) {
	// A generation kicked off while a stream is in flight lands below
	// the stream, where the user saw it appear.
	snap := runtime.Snapshot{
		Stream: &model.Message{
			ID:        model.StreamID("s1"),
			CreatedAt: at(1),
			Content:   "partial tok",
		},
		Placeholders: []*model.Message{
			{ID: model.PlaceholderID("t1"), CreatedAt: at(2), Content: "Generating image..."},
		},
	}

	out := Merge(nil, snap)
	require.Len(t, out, 2)
	require.Equal(t, model.KindStream, out[0].ID.Kind)
	require.Equal(t, model.KindPlaceholder, out[1].ID.Kind)
}

func TestMergeStableOnEqualTimestamps(t *testing.T) {
	// User message and its placeholder share a creation instant only
	// when clock resolution collapses; insertion order must hold.
	confirmed := []*model.Message{
		confirmedMsg("1", 1, "a"),
		confirmedMsg("2", 1, "b"),
		confirmedMsg("3", 1, "c"),
	}
	out := Merge(confirmed, runtime.Snapshot{})
	require.Equal(t, "a", out[0].Content)
	require.Equal(t, "b", out[1].Content)
	require.Equal(t, "c", out[2].Content)
}

func TestMergeIdempotent(t *testing.T) {
	confirmed := []*model.Message{
		confirmedMsg("1", 2, "x"),
		confirmedMsg("2", 1, "y"),
	}
	snap := runtime.Snapshot{
		Optimistic: []*model.Message{
			{ID: model.ProvisionalID("r"), CreatedAt: at(3), ClientRequestID: "r"},
		},
	}

	first := Merge(confirmed, snap)
	second := Merge(confirmed, snap)
	require.Equal(t, first, second)

	// Inputs were not reordered.
	require.Equal(t, "x", confirmed[0].Content)
	require.Equal(t, "y", confirmed[1].Content)
}
