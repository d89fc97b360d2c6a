// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the session-lifetime store of confirmed messages,
// ordered per conversation, with LRU eviction across conversations.
package cache
