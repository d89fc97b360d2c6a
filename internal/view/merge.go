// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package view

import (
	"sort"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
)

// =============================================================================
// MERGE
// =============================================================================

// Merge combines confirmed history with transient runtime state into the
// ordered list the UI renders. Inputs are not mutated; the result slice
// is freshly allocated but shares the message pointers it was given.
//
// Overlay rules, in order:
//  1. Confirmed messages form the base.
//  2. Optimistic entries are skipped when a confirmed message already
//     carries the same client request id. That window exists between
//     server confirmation landing in the cache and the runtime entry
//     being retired.
//  3. Placeholders are skipped when a confirmed message with the same id
//     already replaced them.
//  4. The streaming entry, when present, joins the overlay at the
//     position implied by its creation timestamp. Entries created after
//     the stream started (a media placeholder, for instance) render
//     after it.
//  5. Everything sorts stably by CreatedAt, so equal timestamps keep
//     their insertion order; the stream entry is appended after the
//     placeholders, so a tie still renders it last.
func Merge(confirmed []*model.Message, snap runtime.Snapshot) []*model.Message {
	out := make([]*model.Message, 0, len(confirmed)+len(snap.Optimistic)+len(snap.Placeholders)+1)

	seenRequest := make(map[string]bool)
	seenID := make(map[model.MessageID]bool)
	for _, m := range confirmed {
		if m == nil {
			continue
		}
		if m.ClientRequestID != "" {
			seenRequest[m.ClientRequestID] = true
		}
		seenID[m.ID] = true
		out = append(out, m)
	}

	for _, m := range snap.Optimistic {
		if m == nil {
			continue
		}
		if m.ClientRequestID != "" && seenRequest[m.ClientRequestID] {
			continue
		}
		if seenID[m.ID] {
			continue
		}
		out = append(out, m)
	}

	for _, m := range snap.Placeholders {
		if m == nil {
			continue
		}
		if seenID[m.ID] {
			continue
		}
		out = append(out, m)
	}

	if snap.Stream != nil && !seenID[snap.Stream.ID] {
		out = append(out, snap.Stream)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}
