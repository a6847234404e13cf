// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(st *state) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the backend and show local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), st.app, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "health check timeout")
	return cmd
}

func runStatus(ctx context.Context, app *App, timeout time.Duration) error {
	settings := app.Settings.Get()
	w := app.Out

	fmt.Fprintln(w, RenderConditional(TitleStyle, "medgemma status"))
	fmt.Fprintln(w, RenderSeparator(0))
	fmt.Fprintln(w, RenderLabel("Endpoint:")+settings.APIEndpoint)
	fmt.Fprintln(w, RenderLabel("Flow:")+app.Flow.String())
	fmt.Fprintln(w, RenderLabel("Storage:")+app.Config.Storage.Backend+" ("+app.Config.Storage.Dir+")")
	fmt.Fprintln(w, RenderLabel("Sessions:")+fmt.Sprint(len(app.Manager.List())))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	health, err := app.Client.Status(ctx, settings.StatusURL())
	if err != nil {
		fmt.Fprintln(w, RenderLabel("Backend:")+RenderStatus("error")+" "+err.Error())
		return nil
	}
	model := "loading"
	if health.ModelLoaded {
		model = "loaded"
	}
	fmt.Fprintln(w, RenderLabel("Backend:")+RenderStatus(health.Status)+" "+health.Status)
	fmt.Fprintln(w, RenderLabel("Model:")+RenderStatus(model)+" "+model)
	return nil
}
