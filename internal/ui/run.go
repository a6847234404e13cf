// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/session"
)

// Backend is everything the UI asks of the inference service.
// *client.Client implements it.
type Backend interface {
	chat.Streamer
	chat.Completer
	chat.NativeDetector
	Status(ctx context.Context, url string) (*client.Status, error)
}

// Deps are the collaborators the UI drives.
type Deps struct {
	Manager  *session.Manager
	Settings *config.SettingsStore
	Backend  Backend

	// Detector is optional; one is created on the manager's conversation
	// when nil.
	Detector *chat.Detector

	Flow          chat.Flow
	TrimHistory   bool   // fit history to the contextWindow setting
	Theme         string // dark, light or auto
	ShowReasoning bool   // start with reasoning expanded
	ExportDir     string

	Logger *zap.Logger
}

// Run opens the most recent session and runs the UI until the user quits
// or ctx is canceled.
func Run(ctx context.Context, deps Deps) error {
	if err := deps.Manager.Init(); err != nil {
		return err
	}
	m := New(ctx, deps)
	defer m.rec.Abort()

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
