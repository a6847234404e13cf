// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/model"
)

// statusTimeout bounds the backend health check.
const statusTimeout = 5 * time.Second

// =============================================================================
// MESSAGES
// =============================================================================

// replyDoneMsg ends a send or regenerate. text and image are what the user
// submitted, so a rejected send can be put back.
type replyDoneMsg struct {
	out   chat.Outcome
	err   error
	text  string
	image string
}

type detectDoneMsg struct {
	findings []model.Finding
	err      error
}

type backendStatusMsg struct {
	status *client.Status
	err    error
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) sendCmd(text, image string) tea.Cmd {
	ctx, rec := m.ctx, m.rec
	return func() tea.Msg {
		out, err := rec.Send(ctx, text, image)
		return replyDoneMsg{out: out, err: err, text: text, image: image}
	}
}

func (m Model) regenerateCmd() tea.Cmd {
	ctx, rec := m.ctx, m.rec
	return func() tea.Msg {
		out, err := rec.Regenerate(ctx)
		return replyDoneMsg{out: out, err: err}
	}
}

func (m Model) detectCmd(ctx context.Context, image string, native bool) tea.Cmd {
	d, backend := m.detector, m.deps.Backend
	return func() tea.Msg {
		var (
			findings []model.Finding
			err      error
		)
		if native {
			findings, err = d.DetectNative(ctx, backend, image)
		} else {
			findings, err = d.Detect(ctx, backend, image)
		}
		return detectDoneMsg{findings: findings, err: err}
	}
}

func (m Model) statusCmd() tea.Cmd {
	ctx, backend, url := m.ctx, m.deps.Backend, m.deps.Settings.Get().StatusURL()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, statusTimeout)
		defer cancel()
		st, err := backend.Status(ctx, url)
		return backendStatusMsg{status: st, err: err}
	}
}
