// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package send implements the orchestration flows that turn a user
// action into transcript state: optimistic insert, network call,
// confirmation or rollback.
//
// The chat sender drives streaming text completions through the
// runtime streaming slot. The media sender submits image and video
// generations, parks a placeholder, and hands long-running tasks to the
// task tracker for background polling. Both senders report failures
// into the transcript as error messages rather than returning them to
// the UI loop.
package send
