// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// Update handles messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case streamTickMsg:
		if m.activity != replying {
			return m, nil
		}
		if _, ok := m.stream.Flush(); ok {
			m.refresh()
		}
		return m, streamTickCmd()

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case replyDoneMsg:
		return m.handleReplyDone(msg), nil

	case detectDoneMsg:
		return m.handleDetectDone(msg), nil

	case backendStatusMsg:
		m.backend, m.backendErr = msg.status, msg.err
		if m.notice == "checking backend..." {
			m.setNotice("")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// any key closes help
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.stop() {
			return m, nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if !m.stop() && m.focus == focusSidebar {
			m.focusInput()
		}
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.NewSession):
		return m.newSession()

	case key.Matches(msg, m.keys.ToggleSidebar):
		m.showSidebar = !m.showSidebar
		if !m.showSidebar {
			m.focusInput()
		}
		m.resize()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.TogglePanel):
		m.showPanel = !m.showPanel
		m.resize()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.ToggleThoughts):
		m.showThoughts = !m.showThoughts
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.FocusSidebar):
		if m.focus == focusSidebar {
			m.focusInput()
		} else if m.sidebarVisible() {
			m.focus = focusSidebar
			m.input.Blur()
			m.reloadSessions()
		}
		return m, nil
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}

	if key.Matches(msg, m.keys.Submit) {
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.sidebar.move(-1)
	case key.Matches(msg, m.keys.Down):
		m.sidebar.move(1)
	case key.Matches(msg, m.keys.Open):
		if s, ok := m.sidebar.selected(); ok {
			return m.switchSession(s.ID)
		}
	case key.Matches(msg, m.keys.Delete):
		if s, ok := m.sidebar.selected(); ok {
			return m.deleteSession(s.ID)
		}
	}
	return m, nil
}

func (m *Model) focusInput() {
	m.focus = focusInput
	m.input.Focus()
}

// stop cancels whatever is in flight. It reports false when idle.
func (m *Model) stop() bool {
	switch m.activity {
	case replying:
		m.rec.Abort()
		return true
	case detecting:
		if m.cancelDetect != nil {
			m.cancelDetect()
		}
		return true
	}
	return false
}

// =============================================================================
// SENDING
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(util.NormalizeInput(m.input.Value()))
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if m.busy() {
		m.setError(chat.ErrBusy)
		return m, nil
	}

	image := m.deps.Manager.TakePendingImage()
	if text == "" && image == "" {
		return m, nil
	}
	m.input.Reset()
	return m.startReply(m.sendCmd(text, image))
}

// startReply enters the replying state and starts cmd with the redraw tick.
func (m Model) startReply(cmd tea.Cmd) (Model, tea.Cmd) {
	m.activity = replying
	m.started = time.Now()
	m.stream.Reset()
	m.setNotice("")
	m.refresh()
	return m, tea.Batch(cmd, streamTickCmd(), m.spinner.Tick)
}

func (m Model) handleReplyDone(msg replyDoneMsg) Model {
	m.activity = idle
	m.reloadSessions()

	switch {
	case msg.err != nil:
		// Rejected before anything was sent; give the input back.
		if msg.text != "" && m.input.Value() == "" {
			m.input.SetValue(msg.text)
		}
		if msg.image != "" {
			m.deps.Manager.SetPendingImage(msg.image)
		}
		var verr *model.ValidationError
		if !errors.As(msg.err, &verr) {
			m.setError(msg.err)
		}

	case msg.out.State == chat.StateFailed:
		if r := msg.out.Restore; r != nil {
			if m.input.Value() == "" {
				m.input.SetValue(r.Text)
			}
			if r.Image != "" {
				m.deps.Manager.SetPendingImage(r.Image)
			}
		}
		m.setError(describe(msg.out.Err))

	case msg.out.State == chat.StateAborted:
		m.setNotice("stopped")

	default:
		m.setNotice("")
	}

	m.logger.Debug("reply finished",
		zap.String("state", msg.out.State.String()),
		zap.Duration("duration", msg.out.Duration))
	m.resize()
	m.refresh()
	return m
}

func (m Model) handleDetectDone(msg detectDoneMsg) Model {
	m.activity = idle
	if m.cancelDetect != nil {
		m.cancelDetect()
		m.cancelDetect = nil
	}

	switch {
	case client.IsCanceled(msg.err):
		m.setNotice("detection stopped")
	case msg.err != nil:
		m.setError(describe(msg.err))
	default:
		m.deps.Manager.SetFindings(msg.findings)
		m.setNotice("")
	}
	m.reloadSessions()
	m.resize()
	m.refresh()
	return m
}

// describe turns a client error into a short status line.
func describe(err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsNetwork(err):
		return errors.New("cannot reach the backend; is it running? (" + err.Error() + ")")
	case client.IsTimeout(err):
		return errors.New("the backend did not answer in time")
	}
	var perr *chat.ParseError
	if errors.As(err, &perr) {
		return errors.New("the model's detection reply could not be read")
	}
	return err
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m Model) newSession() (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	if _, err := m.deps.Manager.New(); err != nil {
		m.setError(err)
	} else {
		m.setNotice("new session")
	}
	m.afterSessionChange()
	return m, nil
}

func (m Model) switchSession(id string) (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	if err := m.deps.Manager.Switch(id); err != nil {
		m.setError(err)
		return m, nil
	}
	m.focusInput()
	m.afterSessionChange()
	// Bring back the last detection so the image panel matches the session.
	if i := m.deps.Manager.LatestDetection(); i >= 0 {
		_ = m.deps.Manager.RestoreDetectionView(i)
		m.resize()
		m.refresh()
	}
	return m, nil
}

func (m Model) deleteSession(id string) (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	if err := m.deps.Manager.Delete(id); err != nil {
		m.setError(err)
		return m, nil
	}
	m.setNotice("session deleted")
	m.afterSessionChange()
	return m, nil
}

func (m *Model) afterSessionChange() {
	m.input.Reset()
	m.reloadSessions()
	m.resize()
	m.viewport.GotoTop()
	m.refresh()
	m.viewport.GotoBottom()
}
