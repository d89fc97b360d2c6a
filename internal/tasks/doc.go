// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks tracks outstanding asynchronous media generations across
// all conversations: admission control, the polling loop that drives each
// task to a terminal state, and completion notifications.
//
// Generation continues in the background when the user navigates away;
// the tracker is the component that still remembers the task and routes
// its eventual result back to the owning conversation.
package tasks
