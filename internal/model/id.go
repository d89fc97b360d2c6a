// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// IDENTITY KINDS
// =============================================================================

// IDKind classifies a message identity.
type IDKind int

const (
	// KindConfirmed is a server-assigned permanent identifier.
	KindConfirmed IDKind = iota

	// KindProvisional is a client-generated identifier for a user message
	// that has not been confirmed yet. Value is the client request id.
	KindProvisional

	// KindPlaceholder is a stand-in for an in-progress media generation.
	// Value is the generation task id.
	KindPlaceholder

	// KindStream is the single in-flight streaming assistant message of a
	// conversation. Value is the stream id.
	KindStream

	// KindError is a locally synthesized error message. Value is a
	// client-generated id.
	KindError
)

// Reserved prefixes for the string form of non-confirmed identities.
// This is a closed set: every component that serializes or parses message
// ids recognizes exactly these.
const (
	PrefixProvisional = "temp-"
	PrefixPlaceholder = "task-"
	PrefixStream      = "streaming-"
	PrefixError       = "error-"
)

// =============================================================================
// MESSAGE ID
// =============================================================================

// MessageID is the tagged identity of a message. The zero value is a
// confirmed id with an empty value, which no real message carries.
type MessageID struct {
	Kind  IDKind
	Value string
}

// ConfirmedID returns a server-assigned identity.
func ConfirmedID(serverID string) MessageID {
	return MessageID{Kind: KindConfirmed, Value: serverID}
}

// ProvisionalID returns a client-side identity keyed by request id.
func ProvisionalID(clientRequestID string) MessageID {
	return MessageID{Kind: KindProvisional, Value: clientRequestID}
}

// PlaceholderID returns a media-placeholder identity keyed by task id.
func PlaceholderID(taskID string) MessageID {
	return MessageID{Kind: KindPlaceholder, Value: taskID}
}

// StreamID returns a streaming-message identity.
func StreamID(streamID string) MessageID {
	return MessageID{Kind: KindStream, Value: streamID}
}

// ErrorID returns a synthesized-error identity.
func ErrorID(id string) MessageID {
	return MessageID{Kind: KindError, Value: id}
}

// String renders the wire-compatible form of the identity.
func (id MessageID) String() string {
	switch id.Kind {
	case KindProvisional:
		return PrefixProvisional + id.Value
	case KindPlaceholder:
		return PrefixPlaceholder + id.Value
	case KindStream:
		return PrefixStream + id.Value
	case KindError:
		return PrefixError + id.Value
	default:
		return id.Value
	}
}

// IsConfirmed returns true for a server-assigned identity.
func (id MessageID) IsConfirmed() bool {
	return id.Kind == KindConfirmed
}

// IsZero returns true for the zero identity.
func (id MessageID) IsZero() bool {
	return id.Value == "" && id.Kind == KindConfirmed
}

// ParseMessageID recovers a tagged identity from its string form.
// Unrecognized prefixes are treated as confirmed server ids.
func ParseMessageID(s string) MessageID {
	switch {
	case strings.HasPrefix(s, PrefixProvisional):
		return ProvisionalID(strings.TrimPrefix(s, PrefixProvisional))
	case strings.HasPrefix(s, PrefixPlaceholder):
		return PlaceholderID(strings.TrimPrefix(s, PrefixPlaceholder))
	case strings.HasPrefix(s, PrefixStream):
		return StreamID(strings.TrimPrefix(s, PrefixStream))
	case strings.HasPrefix(s, PrefixError):
		return ErrorID(strings.TrimPrefix(s, PrefixError))
	default:
		return ConfirmedID(s)
	}
}
