// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/ui"
)

func newTUICommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:         "tui",
		Short:       "Start the full-screen interface (the default)",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annFullscreen: annotationTrue},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), st.app)
		},
	}
}

func runTUI(ctx context.Context, app *App) error {
	if err := RequiresTTY("medgemma"); err != nil {
		return err
	}
	return ui.Run(ctx, ui.Deps{
		Manager:       app.Manager,
		Settings:      app.Settings,
		Backend:       app.Client,
		Detector:      app.Detector,
		Flow:          app.Flow,
		TrimHistory:   app.Config.API.TrimHistory,
		Theme:         app.Config.UI.Theme,
		ShowReasoning: app.Config.UI.ShowReasoning,
		ExportDir:     ".",
		Logger:        app.Logger.Named("ui"),
	})
}
