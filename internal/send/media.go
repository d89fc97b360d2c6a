// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package send

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/identity"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
	"github.com/jeranaias/rigchat/internal/tasks"
	"github.com/jeranaias/rigchat/internal/transport"
)

// =============================================================================
// MEDIA KINDS
// =============================================================================

// MediaKind selects the generation type.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ErrTooManyGenerations is returned when admission control denies a new
// generation. The denial reason is also written to the transcript.
var ErrTooManyGenerations = errors.New("too many generations in progress")

func (k MediaKind) taskType() tasks.Type {
	if k == MediaVideo {
		return tasks.TypeVideo
	}
	return tasks.TypeImage
}

func (k MediaKind) placeholderNotice() string {
	if k == MediaVideo {
		return "Generating video..."
	}
	return "Generating image..."
}

// =============================================================================
// MEDIA SENDER
// =============================================================================

// MediaSender orchestrates image and video generation requests.
type MediaSender struct {
	clock   *model.Clock
	runtime *runtime.Store
	cache   *cache.Store
	mapper  *identity.Mapper
	chat    transport.ChatService
	media   transport.MediaService
	tracker *tasks.Tracker

	// background outlives the sending call. Polling runs on it so a
	// generation keeps going after the user navigates away.
	background context.Context

	// PollInterval and MaxConsecutiveFailures override the tracker
	// defaults when non-zero. Kind-specific deadlines always apply.
	PollInterval           time.Duration
	MaxConsecutiveFailures int
}

// NewMediaSender wires a media sender over the shared stores. The
// background context bounds polling goroutines and normally lives as
// long as the process.
func NewMediaSender(background context.Context, clock *model.Clock, rt *runtime.Store, c *cache.Store, m *identity.Mapper, chat transport.ChatService, media transport.MediaService, tr *tasks.Tracker) *MediaSender {
	return &MediaSender{
		clock:      clock,
		runtime:    rt,
		cache:      c,
		mapper:     m,
		chat:       chat,
		media:      media,
		tracker:    tr,
		background: background,
	}
}

// Send runs the full generation flow for one prompt:
//
//  1. Admission check against the task limits.
//  2. Optimistic user message, persisted and confirmed like a chat
//     message.
//  3. Generation submit. A synchronous result lands in the cache
//     directly; an accepted task parks a placeholder and polls in the
//     background.
//
// Send returns once the task is registered (or the synchronous result
// landed); completion arrives later through the placeholder swap and
// the tracker's notification channel.
func (s *MediaSender) Send(ctx context.Context, conversationID string, kind MediaKind, prompt string, params map[string]string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyMessage
	}

	if ok, reason := s.tracker.CanStartTask(conversationID); !ok {
		s.cache.Append(conversationID, model.NewErrorMessage(s.clock, conversationID, reason))
		return fmt.Errorf("%w: %s", ErrTooManyGenerations, reason)
	}

	optimistic := model.NewOptimisticUserMessage(s.clock, conversationID, prompt)
	optimistic.GenerationParams = params
	if err := s.mapper.RegisterProvisional(optimistic); err != nil {
		return fmt.Errorf("failed to register provisional message: %w", err)
	}

	confirmed, err := s.chat.CreateMessage(ctx, transport.CreateMessageRequest{
		ConversationID:  conversationID,
		Content:         prompt,
		ClientRequestID: optimistic.ClientRequestID,
	})
	if err != nil {
		s.failSend(conversationID, optimistic.ClientRequestID, fmt.Sprintf("Prompt could not be sent: %v", err))
		return fmt.Errorf("create message: %w", err)
	}
	s.mapper.Confirm(conversationID, optimistic.ClientRequestID, confirmed.ID.Value, confirmed)

	resp, err := s.media.SubmitGeneration(ctx, transport.GenerationRequest{
		ConversationID:  conversationID,
		Kind:            string(kind),
		Prompt:          prompt,
		ClientRequestID: optimistic.ClientRequestID,
		Params:          params,
	})
	if err != nil {
		s.cache.Append(conversationID, model.NewErrorMessage(s.clock, conversationID,
			fmt.Sprintf("Generation could not be started: %v", err)))
		return fmt.Errorf("submit generation: %w", err)
	}

	// Small jobs can complete on the submit round trip.
	if resp.Message != nil {
		s.clock.Observe(resp.Message.CreatedAt)
		s.cache.Append(conversationID, resp.Message)
		return nil
	}

	return s.registerTask(conversationID, kind, resp.TaskID)
}

// registerTask parks the placeholder and starts background polling.
func (s *MediaSender) registerTask(conversationID string, kind MediaKind, taskID string) error {
	placeholder := model.NewMediaPlaceholder(s.clock, conversationID, taskID, kind.placeholderNotice())
	s.runtime.AddMediaPlaceholder(placeholder)

	if _, err := s.tracker.StartMediaTask(taskID, conversationID, placeholder.ID.String(), kind.taskType()); err != nil {
		s.runtime.TakePlaceholder(conversationID, taskID)
		s.cache.Append(conversationID, model.NewErrorMessage(s.clock, conversationID,
			fmt.Sprintf("Generation could not be tracked: %v", err)))
		return err
	}

	cb := tasks.Callbacks{
		OnSuccess: func(task *tasks.MediaTask, msg *model.Message) {
			s.completeTask(task, msg)
		},
		OnFailure: func(task *tasks.MediaTask, reason string) {
			s.failTask(task, reason)
		},
	}
	opts := tasks.PollOptions{
		Interval:               s.PollInterval,
		MaxConsecutiveFailures: s.MaxConsecutiveFailures,
	}
	return s.tracker.StartPolling(s.background, taskID, s.pollFunc(), cb, opts)
}

// pollFunc adapts the transport task status to the tracker contract.
func (s *MediaSender) pollFunc() tasks.PollFunc {
	return func(ctx context.Context, taskID string) (*tasks.PollResult, error) {
		st, err := s.media.PollTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch st.State {
		case "success":
			return &tasks.PollResult{Status: tasks.StatusSuccess, Message: st.Message}, nil
		case "failed":
			reason := st.FailReason
			if reason == "" {
				reason = "generation failed"
			}
			return &tasks.PollResult{Status: tasks.StatusFailed, FailReason: reason}, nil
		case "timeout":
			return &tasks.PollResult{Status: tasks.StatusTimeout}, nil
		default:
			// pending / processing
			return &tasks.PollResult{Status: tasks.StatusPolling}, nil
		}
	}
}

// completeTask swaps the placeholder for the finished generation. The
// result keeps the placeholder's timestamp so it lands at the position
// the user has been watching.
func (s *MediaSender) completeTask(task *tasks.MediaTask, msg *model.Message) {
	if msg == nil {
		s.failTask(task, "generation finished without a result")
		return
	}

	final := msg.Clone()
	s.clock.Observe(final.CreatedAt)

	if placeholder, ok := s.runtime.TakePlaceholder(task.ConversationID, task.TaskID); ok {
		final.CreatedAt = placeholder.CreatedAt
	}
	s.cache.Append(task.ConversationID, final)
}

// failTask swaps the placeholder for a transcript error entry.
func (s *MediaSender) failTask(task *tasks.MediaTask, reason string) {
	errMsg := model.NewErrorMessage(s.clock, task.ConversationID, reason)
	if placeholder, ok := s.runtime.TakePlaceholder(task.ConversationID, task.TaskID); ok {
		errMsg.CreatedAt = placeholder.CreatedAt
	} else {
		log.Printf("WARNING: no placeholder for finished task %s", task.TaskID)
	}
	s.cache.Append(task.ConversationID, errMsg)
}

// failSend rolls an optimistic prompt into a visible failure.
func (s *MediaSender) failSend(conversationID, clientRequestID, reason string) {
	if !s.runtime.MarkOptimisticFailed(conversationID, clientRequestID) {
		log.Printf("WARNING: optimistic message %s already retired", clientRequestID)
	}
	s.cache.Append(conversationID, model.NewErrorMessage(s.clock, conversationID, reason))
}
