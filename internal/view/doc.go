// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package view merges confirmed conversation history with transient
// runtime state into the single ordered message list the UI renders.
//
// The merge is a pure function: it never mutates its inputs and never
// touches the stores. Confirmed messages come first, optimistic entries
// and media placeholders overlay them, the streaming entry renders last,
// and anything the server has already confirmed is deduplicated by
// client request id so a message never appears twice during the
// confirmation window.
package view
