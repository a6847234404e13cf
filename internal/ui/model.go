// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/ui/styles"
)

// =============================================================================
// LAYOUT
// =============================================================================

const (
	sidebarWidth = 30
	panelWidth   = 36
	inputHeight  = 3

	// Below these widths the side columns are hidden automatically.
	minWidthForSidebar = 90
	minWidthForPanel   = 110
)

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

// activity is what the UI is waiting on.
type activity int

const (
	idle activity = iota
	replying
	detecting
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the whole screen.
type Model struct {
	ctx    context.Context
	deps   Deps
	logger *zap.Logger

	theme *styles.Theme
	keys  KeyMap

	width  int
	height int

	conv     *model.Conversation
	rec      *chat.Reconciler
	detector *chat.Detector
	stream   *StreamingBuffer
	render   *renderer

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	sidebar  sidebar

	focus        focus
	showSidebar  bool
	showPanel    bool
	showHelp     bool
	showThoughts bool

	activity     activity
	started      time.Time
	cancelDetect context.CancelFunc

	// notice is a one-line message in the status bar.
	notice    string
	noticeErr bool

	backend    *client.Status
	backendErr error
}

// New builds the model. deps.Manager must already be initialized.
func New(ctx context.Context, deps Deps) Model {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.ExportDir == "" {
		deps.ExportDir = "."
	}

	conv := deps.Manager.Conversation()
	buf := NewStreamingBuffer(0, 0)

	detector := deps.Detector
	if detector == nil {
		detector = chat.NewDetector(conv, chat.DetectorOptions{
			Settings: deps.Settings.Get,
			Logger:   logger.Named("detect"),
		})
	}

	theme := styles.NewTheme(deps.Theme)

	ta := textarea.New()
	ta.Placeholder = "Ask about an image, or type /help"
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Spinner))

	m := Model{
		ctx:    ctx,
		deps:   deps,
		logger: logger,
		theme:  theme,
		keys:   DefaultKeyMap(),

		conv:     conv,
		detector: detector,
		stream:   buf,
		render:   newRenderer(theme.Glamour),

		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,

		showSidebar:  true,
		showPanel:    true,
		showThoughts: deps.ShowReasoning,
	}
	m.rec = chat.NewReconciler(conv, deps.Backend, chat.Options{
		Flow:        deps.Flow,
		Settings:    deps.Settings.Get,
		TrimHistory: deps.TrimHistory,
		OnDelta:     buf.Write,
		Logger:      logger.Named("chat"),
	})
	m.reloadSessions()
	return m
}

// Init starts the cursor blink and the backend health check.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.statusCmd())
}

func (m Model) busy() bool {
	return m.activity != idle
}

// reloadSessions refreshes the sidebar from the store.
func (m *Model) reloadSessions() {
	m.sidebar.reload(m.deps.Manager.List(), m.deps.Manager.CurrentID())
}

func (m *Model) setNotice(s string) {
	m.notice, m.noticeErr = s, false
}

func (m *Model) setError(err error) {
	if err == nil {
		return
	}
	m.notice, m.noticeErr = err.Error(), true
}

// =============================================================================
// SIZING
// =============================================================================

func (m Model) sidebarVisible() bool {
	return m.showSidebar && m.width >= minWidthForSidebar
}

func (m Model) panelVisible() bool {
	img, _ := m.deps.Manager.ActiveImage()
	return m.showPanel && img != "" && m.width >= minWidthForPanel
}

// resize lays the components out for the current window size.
func (m *Model) resize() {
	chatWidth := m.width
	if m.sidebarVisible() {
		chatWidth -= sidebarWidth
	}
	if m.panelVisible() {
		chatWidth -= panelWidth
	}
	chatWidth = max(chatWidth, 20)

	// header + input border + status bar
	chatHeight := m.height - 1 - (inputHeight + 2) - 1
	chatHeight = max(chatHeight, 3)

	m.viewport.Width = chatWidth
	m.viewport.Height = chatHeight
	m.input.SetWidth(max(m.width-2, 10))
	m.sidebar.height = chatHeight - 2
	m.render.setWidth(chatWidth - 2)
}

// refresh re-renders the conversation into the viewport, following the
// bottom when the view was already there.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom() || m.busy()
	m.viewport.SetContent(m.renderConversation())
	if atBottom {
		m.viewport.GotoBottom()
	}
}
