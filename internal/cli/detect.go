// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

func newDetectCommand(st *state) *cobra.Command {
	var (
		native     bool
		newSession bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Find regions of interest in an image",
		Long: `Runs region detection on an image and records the result in the
current session.

By default the chat endpoint is asked for a JSON list of findings. With
--native the backend's /detect endpoint is used instead, which also returns
the model's reasoning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd.Context(), st.app, args[0], native, newSession, asJSON)
		},
	}
	cmd.Flags().BoolVar(&native, "native", false, "use the backend's detection endpoint")
	cmd.Flags().BoolVar(&newSession, "new", false, "start a new session first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print findings as JSON")
	return cmd
}

func runDetect(ctx context.Context, app *App, path string, native, newSession, asJSON bool) error {
	if err := openSession(app, newSession); err != nil {
		return err
	}
	image, err := util.ImageDataURI(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	findings, err := detect(ctx, app, image, native)
	if err != nil {
		return err
	}

	if asJSON {
		if findings == nil {
			findings = []model.Finding{}
		}
		return printJSON(app.Out, findings)
	}
	fmt.Fprintln(app.Out, findingsTable(findings))
	return nil
}

// detect runs either detection path and shows the result on the image.
func detect(ctx context.Context, app *App, image string, native bool) ([]model.Finding, error) {
	app.Manager.SetActiveImage(image)

	var (
		findings []model.Finding
		err      error
	)
	if native {
		findings, err = app.Detector.DetectNative(ctx, app.Client, image)
	} else {
		findings, err = app.Detector.Detect(ctx, app.Client, image)
	}
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	app.Manager.SetFindings(findings)
	return findings, nil
}
