// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime holds per-conversation transient state: optimistic
// messages awaiting confirmation, the in-flight text stream, and media
// generation placeholders. Nothing here survives a reload; confirmed
// content lives in the cache package.
package runtime
