// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package send

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/identity"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
	"github.com/jeranaias/rigchat/internal/transport"
)

// ErrEmptyMessage is returned when the user submits blank input.
var ErrEmptyMessage = errors.New("message content is empty")

// ErrStreamInFlight is returned when a chat send is attempted while a
// stream is already active in the conversation.
var ErrStreamInFlight = errors.New("a response is already streaming in this conversation")

// ChatSender orchestrates a streaming chat exchange.
type ChatSender struct {
	clock   *model.Clock
	runtime *runtime.Store
	cache   *cache.Store
	mapper  *identity.Mapper
	chat    transport.ChatService

	// Model is the completion model passed to the backend. Empty means
	// server default.
	Model string
}

// NewChatSender wires a chat sender over the shared stores.
func NewChatSender(clock *model.Clock, rt *runtime.Store, c *cache.Store, m *identity.Mapper, chat transport.ChatService) *ChatSender {
	return &ChatSender{
		clock:   clock,
		runtime: rt,
		cache:   c,
		mapper:  m,
		chat:    chat,
	}
}

// Send runs the full chat flow for one user message:
//
//  1. Insert the optimistic user message so the transcript updates
//     before any network traffic.
//  2. Persist the user message; the confirmation promotes the
//     provisional entry in place.
//  3. Open the streaming slot and feed deltas into it.
//  4. On the done event, retire the slot and append the confirmed
//     assistant message to the cache.
//
// Failures after step 1 mark the optimistic entry failed and surface an
// error message in the transcript. Send blocks until the stream closes;
// callers run it on their own goroutine.
func (s *ChatSender) Send(ctx context.Context, conversationID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	optimistic := model.NewOptimisticUserMessage(s.clock, conversationID, content)
	if err := s.mapper.RegisterProvisional(optimistic); err != nil {
		return fmt.Errorf("failed to register provisional message: %w", err)
	}

	confirmed, err := s.chat.CreateMessage(ctx, transport.CreateMessageRequest{
		ConversationID:  conversationID,
		Content:         content,
		ClientRequestID: optimistic.ClientRequestID,
	})
	if err != nil {
		s.failSend(conversationID, optimistic.ClientRequestID, fmt.Sprintf("Message could not be sent: %v", err))
		return fmt.Errorf("create message: %w", err)
	}
	s.mapper.Confirm(conversationID, optimistic.ClientRequestID, confirmed.ID.Value, confirmed)

	return s.streamResponse(ctx, conversationID, content, optimistic.ClientRequestID)
}

// streamResponse drives the assistant side of the exchange.
func (s *ChatSender) streamResponse(ctx context.Context, conversationID, content, clientRequestID string) error {
	streamID := uuid.New().String()
	entry := model.NewStreamingMessage(s.clock, conversationID, streamID)
	if err := s.runtime.StartStreaming(entry, s.Model); err != nil {
		if errors.Is(err, runtime.ErrStreamActive) {
			return ErrStreamInFlight
		}
		return err
	}

	var done transport.StreamEvent
	streamErr := s.chat.StreamChat(ctx, transport.StreamChatRequest{
		ConversationID:  conversationID,
		Content:         content,
		ClientRequestID: clientRequestID,
		Model:           s.Model,
	}, func(ev transport.StreamEvent) {
		switch ev.Kind {
		case transport.EventContent:
			if err := s.runtime.AppendStreamingContent(conversationID, streamID, ev.Content); err != nil {
				log.Printf("WARNING: dropped stream chunk for %s: %v", conversationID, err)
			}
		case transport.EventDone:
			done = ev
		}
	})

	final, err := s.runtime.CompleteStreaming(conversationID, streamID)
	if err != nil {
		return err
	}

	if streamErr == nil && done.Kind != transport.EventDone {
		streamErr = errors.New("stream closed without a completion event")
	}

	if streamErr != nil {
		// Keep whatever arrived before the failure, then report the
		// failure inline.
		if final.Content != "" {
			partial := final.Clone()
			partial.ID = model.ErrorID(uuid.New().String())
			s.cache.Append(conversationID, partial)
		}
		s.cache.Append(conversationID, model.NewErrorMessage(s.clock, conversationID,
			fmt.Sprintf("Response interrupted: %v", streamErr)))
		return fmt.Errorf("stream chat: %w", streamErr)
	}

	// Promote the stream entry to its confirmed identity. The accumulated
	// content keeps the position the user watched it stream in at.
	final.ID = model.ConfirmedID(done.MessageID)
	if !done.CreatedAt.IsZero() {
		s.clock.Observe(done.CreatedAt)
	}
	final.CreditsCost = done.CreditsCost
	s.cache.Append(conversationID, final)
	return nil
}

// failSend rolls an optimistic message into a visible failure.
func (s *ChatSender) failSend(conversationID, clientRequestID, reason string) {
	if !s.runtime.MarkOptimisticFailed(conversationID, clientRequestID) {
		log.Printf("WARNING: optimistic message %s already retired", clientRequestID)
	}
	s.cache.Append(conversationID, model.NewErrorMessage(s.clock, conversationID, reason))
}
