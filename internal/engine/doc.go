// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine assembles the reconciliation core behind one facade.
//
// It owns the shared clock, the message cache, the runtime state store,
// the identity mapper, and the task tracker, wires the chat and media
// senders over them, and exposes the operations a UI needs: send,
// render, switch conversation, delete, and consume completion
// notifications. The UI never touches the stores directly; every read
// goes through Messages, which merges confirmed history with transient
// state at call time.
package engine
