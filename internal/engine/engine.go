// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/history"
	"github.com/jeranaias/rigchat/internal/identity"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/runtime"
	"github.com/jeranaias/rigchat/internal/send"
	"github.com/jeranaias/rigchat/internal/tasks"
	"github.com/jeranaias/rigchat/internal/transport"
	"github.com/jeranaias/rigchat/internal/view"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configure a new engine. Chat and Media are required; History
// is optional and disables local persistence when nil.
type Options struct {
	Chat    transport.ChatService
	Media   transport.MediaService
	History *history.Store

	// Model is the completion model for chat sends. Empty means server
	// default.
	Model string

	// MaxCachedConversations bounds the message cache (default 10).
	MaxCachedConversations int

	// MaxRuntimeConversations bounds idle runtime state (default 20).
	MaxRuntimeConversations int

	// MaxGlobalTasks and MaxTasksPerConversation bound generation
	// admission (defaults 15 and 5).
	MaxGlobalTasks          int
	MaxTasksPerConversation int

	// PollInterval overrides the task polling interval when non-zero.
	PollInterval time.Duration
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the reconciliation core facade.
type Engine struct {
	clock   *model.Clock
	cache   *cache.Store
	runtime *runtime.Store
	mapper  *identity.Mapper
	tracker *tasks.Tracker

	chat  transport.ChatService
	media transport.MediaService

	chatSender  *send.ChatSender
	mediaSender *send.MediaSender
	history     *history.Store

	mu     sync.RWMutex
	active string

	cancel context.CancelFunc
}

// New assembles an engine from the given options.
func New(opts Options) (*Engine, error) {
	if opts.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if opts.Media == nil {
		return nil, errors.New("media service is required")
	}

	background, cancel := context.WithCancel(context.Background())

	e := &Engine{
		clock:   model.NewClock(),
		cache:   cache.NewStore(opts.MaxCachedConversations),
		runtime: runtime.NewStore(opts.MaxRuntimeConversations),
		tracker: tasks.NewTrackerWithLimits(opts.MaxGlobalTasks, opts.MaxTasksPerConversation),
		chat:    opts.Chat,
		media:   opts.Media,
		history: opts.History,
		cancel:  cancel,
	}
	e.mapper = identity.NewMapper(e.runtime, e.cache)

	e.chatSender = send.NewChatSender(e.clock, e.runtime, e.cache, e.mapper, e.chat)
	e.chatSender.Model = opts.Model
	e.mediaSender = send.NewMediaSender(background, e.clock, e.runtime, e.cache, e.mapper, e.chat, e.media, e.tracker)
	e.mediaSender.PollInterval = opts.PollInterval

	// Eviction never touches the conversation in view or one with work
	// in flight.
	e.cache.SetProtectFunc(func(conversationID string) bool {
		if e.ActiveConversation() == conversationID {
			return true
		}
		return e.tracker.HasActiveTask(conversationID) || e.runtime.HasActivity(conversationID)
	})

	if e.history != nil {
		e.cache.SetAppendFunc(func(conversationID string, msg *model.Message) {
			if err := e.history.SaveMessage(msg); err != nil {
				log.Printf("WARNING: failed to persist message %s: %v", msg.ID, err)
			}
		})
	}

	return e, nil
}

// Close stops background polling and closes local history. Outstanding
// tasks are abandoned mid-poll; their server-side state is unaffected.
func (e *Engine) Close() error {
	e.cancel()
	e.tracker.Wait()
	if e.history != nil {
		return e.history.Close()
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Messages returns the merged, ordered transcript of a conversation as
// the UI should render it right now.
func (e *Engine) Messages(conversationID string) []*model.Message {
	confirmed, _ := e.cache.Get(conversationID)
	return view.Merge(confirmed, e.runtime.Snapshot(conversationID))
}

// IsGenerating reports whether the conversation has a stream or
// generation in flight. The UI uses it to gate input.
func (e *Engine) IsGenerating(conversationID string) bool {
	return e.runtime.IsGenerating(conversationID) || e.tracker.HasActiveTask(conversationID)
}

// ActiveConversation returns the conversation currently in view.
func (e *Engine) ActiveConversation() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Notifications returns the channel of task completion events for
// conversations that may no longer be in view.
func (e *Engine) Notifications() <-chan tasks.Notification {
	return e.tracker.Notifications()
}

// CacheStats returns message cache statistics.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.GetStats()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SetActiveConversation switches the view. The target is hydrated if it
// was evicted: local history first, then a network fetch.
func (e *Engine) SetActiveConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	e.active = conversationID
	e.mu.Unlock()

	if conversationID == "" || e.cache.IsLoaded(conversationID) {
		return nil
	}
	return e.hydrate(ctx, conversationID)
}

// hydrate loads a conversation's confirmed transcript into the cache.
func (e *Engine) hydrate(ctx context.Context, conversationID string) error {
	if e.history != nil {
		msgs, err := e.history.LoadConversation(conversationID)
		if err != nil {
			log.Printf("WARNING: history load failed for %s: %v", conversationID, err)
		} else if len(msgs) > 0 {
			for _, m := range msgs {
				e.clock.Observe(m.CreatedAt)
			}
			e.cache.SetMessages(conversationID, msgs)
			return nil
		}
	}

	msgs, err := e.chat.FetchMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	for _, m := range msgs {
		e.clock.Observe(m.CreatedAt)
	}
	e.cache.SetMessages(conversationID, msgs)

	if e.history != nil {
		for _, m := range msgs {
			if err := e.history.SaveMessage(m); err != nil {
				log.Printf("WARNING: failed to persist fetched message %s: %v", m.ID, err)
			}
		}
	}
	return nil
}

// SendChat runs a streaming chat exchange. It blocks until the response
// finishes; UI callers run it on a goroutine and re-render on ticks.
func (e *Engine) SendChat(ctx context.Context, conversationID, content string) error {
	return e.chatSender.Send(ctx, conversationID, content)
}

// SendImage starts an image generation.
func (e *Engine) SendImage(ctx context.Context, conversationID, prompt string, params map[string]string) error {
	return e.mediaSender.Send(ctx, conversationID, send.MediaImage, prompt, params)
}

// SendVideo starts a video generation.
func (e *Engine) SendVideo(ctx context.Context, conversationID, prompt string, params map[string]string) error {
	return e.mediaSender.Send(ctx, conversationID, send.MediaVideo, prompt, params)
}

// DeleteMessage removes a confirmed message everywhere: server, cache,
// and local history. Transient entries cannot be deleted; they retire
// through their own lifecycles.
func (e *Engine) DeleteMessage(ctx context.Context, conversationID string, id model.MessageID) error {
	if !id.IsConfirmed() {
		return fmt.Errorf("message %s is not deletable", id)
	}
	if err := e.chat.DeleteMessage(ctx, conversationID, id.Value); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	e.cache.Remove(conversationID, id)
	if e.history != nil {
		if err := e.history.DeleteMessage(conversationID, id); err != nil {
			log.Printf("WARNING: failed to delete %s from history: %v", id, err)
		}
	}
	return nil
}
