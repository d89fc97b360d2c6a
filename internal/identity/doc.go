// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity resolves the race between an optimistic message shown
// under a provisional id and its server confirmation under a new id,
// regardless of arrival order, exactly once.
package identity
