// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the reconciliation
// engine: messages, message identity, and the monotonic timestamp clock.
//
// A message carries one of five identity kinds (confirmed, provisional,
// placeholder, stream, error). Provisional kinds render with a reserved
// string prefix so transcripts stay wire-compatible with the backend, but
// all in-process code branches on the tagged MessageID rather than
// sniffing prefixes.
package model
