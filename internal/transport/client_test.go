// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

func testClient(serverURL string) *Client {
	return NewClient(serverURL, "rk-test-0123456789abcdef")
}

// =============================================================================
// MESSAGE API TESTS
// =============================================================================

func TestCreateMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/conversations/conv1/messages", r.URL.Path)
		require.Equal(t, "Bearer rk-test-0123456789abcdef", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg-42",
			"conversation_id": "conv1",
			"role": "user",
			"content": "hello",
			"client_request_id": "req-a",
			"created_at": "2025-06-01T12:00:00Z"
		}`))
	}))
	defer server.Close()

	msg, err := testClient(server.URL).CreateMessage(context.Background(), CreateMessageRequest{
		ConversationID:  "conv1",
		Content:         "hello",
		ClientRequestID: "req-a",
	})
	require.NoError(t, err)
	require.Equal(t, model.ConfirmedID("msg-42"), msg.ID)
	require.Equal(t, model.RoleUser, msg.Role)
	require.Equal(t, "req-a", msg.ClientRequestID)
}

func TestCreateMessageNotConfigured(t *testing.T) {
	c := NewClient("http://localhost:1", "")
	_, err := c.CreateMessage(context.Background(), CreateMessageRequest{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchMessagesSplitsMediaURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"messages": [
				{
					"id": "m1",
					"conversation_id": "conv1",
					"role": "assistant",
					"image_url": "https://cdn.example.com/a.png,https://cdn.example.com/b.png",
					"created_at": "2025-06-01T12:00:00Z",
					"credits_cost": 4
				}
			]
		}`))
	}))
	defer server.Close()

	msgs, err := testClient(server.URL).FetchMessages(context.Background(), "conv1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, model.MediaURLs{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.png",
	}, msgs[0].ImageURLs)
	require.Equal(t, 4, msgs[0].CreditsCost)
}

func TestErrorMapping(t *testing.T) {
	var status atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"error": {"code": "bad", "message": "nope"}}`))
	}))
	defer server.Close()

	c := testClient(server.URL)

	status.Store(http.StatusUnauthorized)
	_, err := c.CreateMessage(context.Background(), CreateMessageRequest{ConversationID: "c"})
	require.ErrorIs(t, err, ErrAuthFailed)

	status.Store(http.StatusPaymentRequired)
	_, err = c.CreateMessage(context.Background(), CreateMessageRequest{ConversationID: "c"})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	status.Store(http.StatusNotFound)
	err = c.DeleteMessage(context.Background(), "c", "m")
	require.ErrorIs(t, err, ErrNotFound)

	status.Store(http.StatusBadRequest)
	_, err = c.CreateMessage(context.Background(), CreateMessageRequest{ConversationID: "c"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "bad", apiErr.Code)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestFetchMessagesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"messages": []}`))
	}))
	defer server.Close()

	msgs, err := testClient(server.URL).FetchMessages(context.Background(), "conv1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, int32(3), calls.Load())
}

// =============================================================================
// GENERATION API TESTS
// =============================================================================

func TestSubmitGenerationAsync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generations", r.URL.Path)
		w.Write([]byte(`{"task_id": "task-abc"}`))
	}))
	defer server.Close()

	resp, err := testClient(server.URL).SubmitGeneration(context.Background(), GenerationRequest{
		ConversationID: "conv1",
		Kind:           "image",
		Prompt:         "a lighthouse at dusk",
	})
	require.NoError(t, err)
	require.Equal(t, "task-abc", resp.TaskID)
	require.Nil(t, resp.Message)
}

func TestSubmitGenerationSynchronous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"message": {
				"id": "m9",
				"conversation_id": "conv1",
				"role": "assistant",
				"image_url": "https://cdn.example.com/x.png",
				"created_at": "2025-06-01T12:00:00Z"
			}
		}`))
	}))
	defer server.Close()

	resp, err := testClient(server.URL).SubmitGeneration(context.Background(), GenerationRequest{
		ConversationID: "conv1",
		Kind:           "image",
	})
	require.NoError(t, err)
	require.Empty(t, resp.TaskID)
	require.NotNil(t, resp.Message)
	require.True(t, resp.Message.HasMedia())
}

func TestPollTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tasks/task-abc", r.URL.Path)
		w.Write([]byte(`{"status": "processing"}`))
	}))
	defer server.Close()

	st, err := testClient(server.URL).PollTask(context.Background(), "task-abc")
	require.NoError(t, err)
	require.Equal(t, "processing", st.State)
	require.Nil(t, st.Message)
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func sseBody(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			w.Write([]byte("data: " + ev + "\n\n"))
		}
	}
}

func TestStreamChat(t *testing.T) {
	server := httptest.NewServer(sseBody(
		`{"type": "content", "content": "Hel"}`,
		`{"type": "content", "content": "lo"}`,
		`{"type": "done", "message_id": "m77", "created_at": "2025-06-01T12:00:05Z", "credits_cost": 1}`,
	))
	defer server.Close()

	var events []StreamEvent
	err := testClient(server.URL).StreamChat(context.Background(), StreamChatRequest{
		ConversationID: "conv1",
		Content:        "hi",
	}, func(ev StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, EventContent, events[0].Kind)
	require.Equal(t, "Hel", events[0].Content)
	require.Equal(t, "lo", events[1].Content)
	require.Equal(t, EventDone, events[2].Kind)
	require.Equal(t, "m77", events[2].MessageID)
	require.Equal(t, 1, events[2].CreditsCost)
}

func TestStreamChatErrorEventPreservesPartial(t *testing.T) {
	server := httptest.NewServer(sseBody(
		`{"type": "content", "content": "partial text"}`,
		`{"type": "error", "message": "model overloaded"}`,
	))
	defer server.Close()

	var events []StreamEvent
	err := testClient(server.URL).StreamChat(context.Background(), StreamChatRequest{
		ConversationID: "conv1",
	}, func(ev StreamEvent) {
		events = append(events, ev)
	})
	require.Error(t, err)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, "partial text", streamErr.Partial)

	require.Len(t, events, 2)
	require.Equal(t, EventError, events[1].Kind)
}

func TestStreamChatDisconnectWithoutDone(t *testing.T) {
	server := httptest.NewServer(sseBody(
		`{"type": "content", "content": "half a"}`,
	))
	defer server.Close()

	err := testClient(server.URL).StreamChat(context.Background(), StreamChatRequest{
		ConversationID: "conv1",
	}, func(ev StreamEvent) {})
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, "half a", streamErr.Partial)
}

func TestStreamChatSkipsMalformedChunks(t *testing.T) {
	server := httptest.NewServer(sseBody(
		`{not json`,
		`{"type": "content", "content": "ok"}`,
		`{"type": "done", "message_id": "m1", "created_at": "2025-06-01T12:00:00Z"}`,
	))
	defer server.Close()

	var contents []string
	err := testClient(server.URL).StreamChat(context.Background(), StreamChatRequest{}, func(ev StreamEvent) {
		if ev.Kind == EventContent {
			contents = append(contents, ev.Content)
		}
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, contents)
}

func TestStreamChatHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := testClient(server.URL).StreamChat(context.Background(), StreamChatRequest{}, func(StreamEvent) {})
	require.ErrorIs(t, err, ErrRateLimited)
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReaderMultilineData(t *testing.T) {
	r := NewSSEReader(strings.NewReader("event: update\ndata: line1\ndata: line2\n\n"))
	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "update", ev)
	require.Equal(t, "line1\nline2", string(data))
}

func TestSSEReaderIgnoresComments(t *testing.T) {
	r := NewSSEReader(strings.NewReader(": keepalive\ndata: payload\n\n"))
	_, data, err := r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}
