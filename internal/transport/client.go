// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize bounds response bodies to keep a misbehaving
	// server from exhausting memory.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// Shared clients keep connection pools across requests. The
	// streaming client has no timeout; streams are bounded by context.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates an invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientCredits indicates the account cannot pay for the
	// request.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotFound indicates the conversation, message, or task does not
	// exist on the server.
	ErrNotFound = errors.New("not found")
)

// APIError is a structured error response from the backend.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse is the wire shape of backend errors.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// messageRecord is the wire shape of a confirmed message. Media URLs
// arrive comma-joined in a single string per kind.
type messageRecord struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversation_id"`
	Role             string            `json:"role"`
	Content          string            `json:"content"`
	ImageURL         string            `json:"image_url,omitempty"`
	VideoURL         string            `json:"video_url,omitempty"`
	ClientRequestID  string            `json:"client_request_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CreditsCost      int               `json:"credits_cost,omitempty"`
	GenerationParams map[string]string `json:"generation_params,omitempty"`
}

// toModel converts a wire record to the internal message type.
func (r *messageRecord) toModel() *model.Message {
	return &model.Message{
		ID:               model.ConfirmedID(r.ID),
		ConversationID:   r.ConversationID,
		Role:             model.Role(r.Role),
		Content:          r.Content,
		ImageURLs:        model.SplitMediaURLs(r.ImageURL),
		VideoURLs:        model.SplitMediaURLs(r.VideoURL),
		ClientRequestID:  r.ClientRequestID,
		CreatedAt:        r.CreatedAt.UTC(),
		CreditsCost:      r.CreditsCost,
		GenerationParams: r.GenerationParams,
	}
}

type createMessageBody struct {
	Content         string `json:"content"`
	ClientRequestID string `json:"client_request_id"`
}

type messagesResponse struct {
	Messages []messageRecord `json:"messages"`
}

type generationBody struct {
	ConversationID  string            `json:"conversation_id"`
	Kind            string            `json:"kind"`
	Prompt          string            `json:"prompt"`
	ClientRequestID string            `json:"client_request_id"`
	Params          map[string]string `json:"params,omitempty"`
}

type generationRecord struct {
	TaskID  string         `json:"task_id,omitempty"`
	Message *messageRecord `json:"message,omitempty"`
}

type taskStatusRecord struct {
	Status     string         `json:"status"`
	FailReason string         `json:"fail_reason,omitempty"`
	Message    *messageRecord `json:"message,omitempty"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat and generation backend. It implements
// ChatService and MediaService.
type Client struct {
	apiKey     string
	baseURL    string
	maxRetries int
}

// NewClient creates a client for the given backend. An empty API key is
// allowed; requests then fail with ErrNotConfigured.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		maxRetries: DefaultMaxRetries,
	}
}

// WithMaxRetries sets the retry budget for transient errors.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// IsConfigured returns true if an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rigchat/0.1.0")
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// readResponse reads a body with the size limit applied.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse maps HTTP error responses to sentinel or typed
// errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrNotFound
	}

	return &APIError{
		Code:    apiErr.Error.Code,
		Message: apiErr.Error.Message,
		Status:  statusCode,
	}
}

// isRetryable reports whether an error is worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Network-level failures are retryable.
	return !errors.Is(err, ErrAuthFailed) &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInsufficientCredits) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// calculateBackoff returns the delay before the given retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// doJSON performs one JSON request/response round trip against the
// shared pooled client.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Printf("API %s %s: %d (%v)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	body, err := readResponse(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(resp.StatusCode, body)
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// doJSONWithRetry wraps doJSON with exponential backoff on transient
// errors.
func (c *Client) doJSONWithRetry(ctx context.Context, method, path string, reqBody, respBody any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		err := c.doJSON(ctx, method, path, reqBody, respBody)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// =============================================================================
// CHAT SERVICE
// =============================================================================

// CreateMessage persists a user message. The confirmed record carries
// the client request id back for deduplication. Not retried: the server
// treats a repeated client request id as a duplicate, so the caller
// decides whether to resubmit.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (*model.Message, error) {
	var rec messageRecord
	path := fmt.Sprintf("/api/conversations/%s/messages", req.ConversationID)
	body := createMessageBody{Content: req.Content, ClientRequestID: req.ClientRequestID}
	if err := c.doJSON(ctx, http.MethodPost, path, body, &rec); err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// FetchMessages returns the confirmed history of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var resp messagesResponse
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationID)
	if err := c.doJSONWithRetry(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*model.Message, len(resp.Messages))
	for i := range resp.Messages {
		out[i] = resp.Messages[i].toModel()
	}
	return out, nil
}

// DeleteMessage removes a confirmed message from a conversation.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	path := fmt.Sprintf("/api/conversations/%s/messages/%s", conversationID, messageID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// =============================================================================
// MEDIA SERVICE
// =============================================================================

// SubmitGeneration starts an image or video generation. Not retried for
// the same reason as CreateMessage.
func (c *Client) SubmitGeneration(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	var rec generationRecord
	body := generationBody{
		ConversationID:  req.ConversationID,
		Kind:            req.Kind,
		Prompt:          req.Prompt,
		ClientRequestID: req.ClientRequestID,
		Params:          req.Params,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/generations", body, &rec); err != nil {
		return nil, err
	}

	out := &GenerationResponse{TaskID: rec.TaskID}
	if rec.Message != nil {
		out.Message = rec.Message.toModel()
	}
	if out.TaskID == "" && out.Message == nil {
		return nil, errors.New("generation response carried neither task id nor message")
	}
	return out, nil
}

// PollTask probes an outstanding generation task.
func (c *Client) PollTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	var rec taskStatusRecord
	path := fmt.Sprintf("/api/tasks/%s", taskID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}

	out := &TaskStatus{State: rec.Status, FailReason: rec.FailReason}
	if rec.Message != nil {
		out.Message = rec.Message.toModel()
	}
	return out, nil
}
