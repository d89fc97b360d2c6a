// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE chunk.
const MaxChunkSize = 64 * 1024

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError is a mid-stream failure. Content received before the
// failure is preserved so the caller can keep the partial text.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// WIRE CHUNKS
// =============================================================================

// streamChunk is the wire shape of one SSE event.
type streamChunk struct {
	Type        string    `json:"type"` // "content", "done", or "error"
	Content     string    `json:"content,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	CreditsCost int       `json:"credits_cost,omitempty"`
	Message     string    `json:"message,omitempty"` // error detail
}

type streamChatBody struct {
	ConversationID  string `json:"conversation_id"`
	Content         string `json:"content"`
	ClientRequestID string `json:"client_request_id"`
	Model           string `json:"model,omitempty"`
	Stream          bool   `json:"stream"`
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event, returning the event type and data.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if len(line) > MaxChunkSize {
			return "", nil, fmt.Errorf("SSE line exceeds %d bytes", MaxChunkSize)
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore id:, retry:, and comment lines.
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat runs a streaming chat completion, invoking the callback
// for each event in arrival order. The stream is bounded by the
// context; the streaming HTTP client itself has no timeout.
func (c *Client) StreamChat(ctx context.Context, req StreamChatRequest, fn StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	body := streamChatBody{
		ConversationID:  req.ConversationID,
		Content:         req.Content,
		ClientRequestID: req.ClientRequestID,
		Model:           req.Model,
		Stream:          true,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := readResponse(resp)
		return handleErrorResponse(resp.StatusCode, errBody)
	}

	return processStream(ctx, resp.Body, fn)
}

// processStream reads SSE events and converts them to StreamEvents. A
// mid-stream disconnect is reported as a StreamError preserving the
// partial content.
func processStream(ctx context.Context, body io.Reader, fn StreamCallback) error {
	reader := NewSSEReader(body)
	var partial bytes.Buffer

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				// The server closed without a done event.
				return &StreamError{Partial: partial.String(), Err: errors.New("stream ended without done event")}
			}
			return &StreamError{Partial: partial.String(), Err: err}
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		switch chunk.Type {
		case "content":
			partial.WriteString(chunk.Content)
			fn(StreamEvent{Kind: EventContent, Content: chunk.Content})
		case "done":
			fn(StreamEvent{
				Kind:        EventDone,
				MessageID:   chunk.MessageID,
				CreatedAt:   chunk.CreatedAt.UTC(),
				CreditsCost: chunk.CreditsCost,
			})
			return nil
		case "error":
			streamErr := &StreamError{Partial: partial.String(), Err: errors.New(chunk.Message)}
			fn(StreamEvent{Kind: EventError, Err: streamErr})
			return streamErr
		}
	}
}
