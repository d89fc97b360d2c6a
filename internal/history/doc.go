// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists confirmed transcripts to a local SQLite
// database.
//
// The message cache holds a bounded number of conversations; when one
// is evicted and later revisited, history is the first reload source
// before falling back to a network fetch. Only confirmed messages are
// persisted. Provisional entries, placeholders, and streams are
// process-local by definition and never touch disk.
package history
