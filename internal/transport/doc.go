// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the HTTP client for the chat and
// generation backend.
//
// It covers four surfaces: message creation and history fetch on the
// conversations API, streaming chat over SSE, generation submission, and
// task status polling. Wire types stay inside this package; everything
// crossing the boundary is converted to internal/model types so the
// rest of the client never sees JSON field names or comma-joined URL
// lists.
package transport
