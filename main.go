// rigchat TUI - a terminal client for streaming chat and media generation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/history"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/tasks"
	"github.com/jeranaias/rigchat/internal/transport"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mediaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Underline(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	notifyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// =============================================================================
// MESSAGES
// =============================================================================

// tickMsg drives transcript re-renders while work is in flight.
type tickMsg time.Time

// sendDoneMsg reports a finished send goroutine.
type sendDoneMsg struct{ err error }

// taskNotifyMsg carries a generation completion event.
type taskNotifyMsg tasks.Notification

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func listenNotifications(ch <-chan tasks.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return taskNotifyMsg(n)
	}
}

// =============================================================================
// TUI MODEL
// =============================================================================

type tuiModel struct {
	eng      *engine.Engine
	viewport viewport.Model
	input    textinput.Model

	conversation string
	status       string
	sending      bool
	ready        bool
}

func newTUIModel(eng *engine.Engine) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Message, /image <prompt>, /video <prompt>, /open <conversation>"
	ti.Focus()
	ti.CharLimit = 4000

	return &tuiModel{
		eng:          eng,
		input:        ti,
		conversation: "default",
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tick(),
		listenNotifications(m.eng.Notifications()),
		func() tea.Msg {
			if err := m.eng.SetActiveConversation(context.Background(), m.conversation); err != nil {
				return sendDoneMsg{err: err}
			}
			return nil
		},
	)
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.input.Width = msg.Width - 4
		m.renderTranscript()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if cmd := m.submit(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}

	case tickMsg:
		m.renderTranscript()
		cmds = append(cmds, tick())

	case sendDoneMsg:
		m.sending = false
		if msg.err != nil {
			m.status = errorStyle.Render(msg.err.Error())
		} else {
			m.status = ""
		}
		m.renderTranscript()

	case taskNotifyMsg:
		if msg.ConversationID != m.conversation {
			m.status = notifyStyle.Render(fmt.Sprintf(
				"%s generation %s in %s", msg.Type, msg.Status, msg.ConversationID))
		}
		cmds = append(cmds, listenNotifications(m.eng.Notifications()))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit dispatches the input line: plain text streams a chat reply,
// slash commands drive generations and navigation.
func (m *tuiModel) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return nil
	}
	m.input.Reset()

	switch {
	case strings.HasPrefix(line, "/open "):
		m.conversation = strings.TrimSpace(strings.TrimPrefix(line, "/open "))
		return func() tea.Msg {
			return sendDoneMsg{err: m.eng.SetActiveConversation(context.Background(), m.conversation)}
		}

	case strings.HasPrefix(line, "/image "):
		prompt := strings.TrimPrefix(line, "/image ")
		conv := m.conversation
		return func() tea.Msg {
			return sendDoneMsg{err: m.eng.SendImage(context.Background(), conv, prompt, nil)}
		}

	case strings.HasPrefix(line, "/video "):
		prompt := strings.TrimPrefix(line, "/video ")
		conv := m.conversation
		return func() tea.Msg {
			return sendDoneMsg{err: m.eng.SendVideo(context.Background(), conv, prompt, nil)}
		}

	case strings.HasPrefix(line, "/"):
		m.status = errorStyle.Render("unknown command: " + strings.Fields(line)[0])
		return nil

	default:
		m.sending = true
		conv := m.conversation
		return func() tea.Msg {
			return sendDoneMsg{err: m.eng.SendChat(context.Background(), conv, line)}
		}
	}
}

// renderTranscript re-reads the merged view and pushes it into the
// viewport, pinned to the bottom.
func (m *tuiModel) renderTranscript() {
	if !m.ready {
		return
	}

	var b strings.Builder
	for _, msg := range m.eng.Messages(m.conversation) {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func renderMessage(msg *model.Message) string {
	prefix := msg.Role.DisplayName() + ": "

	switch {
	case msg.IsError:
		return errorStyle.Render(prefix + msg.Content)
	case msg.ID.Kind == model.KindProvisional:
		return pendingStyle.Render(prefix + msg.Content + " (sending)")
	case msg.ID.Kind == model.KindPlaceholder:
		return pendingStyle.Render(prefix + msg.Content)
	case msg.ID.Kind == model.KindStream:
		return assistantStyle.Render(prefix+msg.Content) + pendingStyle.Render(" ▌")
	case msg.HasMedia():
		var urls []string
		urls = append(urls, msg.ImageURLs...)
		urls = append(urls, msg.VideoURLs...)
		return mediaStyle.Render(prefix + strings.Join(urls, " "))
	case msg.Role == model.RoleUser:
		return userStyle.Render(prefix + msg.Content)
	default:
		return assistantStyle.Render(prefix + msg.Content)
	}
}

func (m *tuiModel) View() string {
	if !m.ready {
		return "loading..."
	}

	status := m.status
	if status == "" {
		state := "idle"
		if m.sending || m.eng.IsGenerating(m.conversation) {
			state = "working"
		}
		status = statusStyle.Render(fmt.Sprintf("[%s] %s", m.conversation, state))
	}

	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), status, m.input.View())
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var hist *history.Store
	if cfg.History.Enabled {
		path, perr := cfg.HistoryPath()
		if perr == nil {
			hist, perr = history.Open(path)
		}
		if perr != nil {
			log.Printf("WARNING: history disabled: %v", perr)
			hist = nil
		}
	}

	client := transport.NewClient(cfg.API.BaseURL, cfg.API.Key).
		WithMaxRetries(cfg.API.MaxRetries)

	eng, err := engine.New(engine.Options{
		Chat:                    client,
		Media:                   client,
		History:                 hist,
		Model:                   cfg.API.Model,
		MaxCachedConversations:  cfg.Cache.MaxConversations,
		MaxRuntimeConversations: cfg.Cache.MaxRuntimeConversations,
		MaxGlobalTasks:          cfg.Tasks.MaxGlobal,
		MaxTasksPerConversation: cfg.Tasks.MaxPerConversation,
		PollInterval:            time.Duration(cfg.Tasks.PollIntervalSecs) * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	// Log config file changes; connection settings apply on restart.
	if path, perr := config.Path(); perr == nil {
		if w, werr := config.NewWatcher(path, func(*config.Config) {
			log.Printf("config reloaded from %s", path)
		}); werr == nil {
			if werr := w.Watch(); werr == nil {
				defer w.Close()
			}
		}
	}

	p := tea.NewProgram(newTUIModel(eng), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
