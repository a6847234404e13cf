// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

func newAskCommand(st *state) *cobra.Command {
	var (
		imagePath  string
		newSession bool
		raw        bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Long: `Sends one message in the current session and prints the reply.

The exchange is saved like any other turn. Use --new to start a fresh
session first. Ctrl+C stops the reply and keeps what arrived.`,
		Example: `  medgemma ask "What does this X-ray show?" --image chest.png
  medgemma ask --new "Explain the term ground-glass opacity"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := util.NormalizeInput(strings.Join(args, " "))
			return runAsk(cmd.Context(), st.app, text, imagePath, newSession, raw || !IsStdoutTTY())
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "attach an image file")
	cmd.Flags().BoolVar(&newSession, "new", false, "start a new session first")
	cmd.Flags().BoolVar(&raw, "raw", false, "stream the reply unformatted")
	return cmd
}

func runAsk(ctx context.Context, app *App, text, imagePath string, newSession, raw bool) error {
	if err := openSession(app, newSession); err != nil {
		return err
	}

	var image string
	if imagePath != "" {
		var err error
		if image, err = util.ImageDataURI(imagePath); err != nil {
			return err
		}
		app.Manager.SetActiveImage(image)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var onDelta func(string)
	if raw {
		onDelta = func(delta string) { fmt.Fprint(app.Out, delta) }
	}
	r := app.NewReconciler(nil, onDelta)

	out, err := r.Send(ctx, text, image)
	if err != nil {
		return err
	}
	return reportOutcome(app.Out, newRenderer(app.Config.UI.Theme, app.Config.UI.ShowReasoning), out, raw)
}

// openSession loads the most recent session, or starts a new one.
func openSession(app *App, fresh bool) error {
	if err := app.Manager.Init(); err != nil {
		return err
	}
	if fresh {
		if _, err := app.Manager.New(); err != nil {
			return err
		}
	}
	return nil
}

// reportOutcome prints how an exchange ended. When the reply was already
// streamed it only adds the trailing newline and any status line.
func reportOutcome(w io.Writer, render *renderer, out chat.Outcome, streamed bool) error {
	if streamed {
		fmt.Fprintln(w)
	} else if out.Text != "" {
		fmt.Fprintln(w, render.assistant(out.Text))
	}

	switch out.State {
	case chat.StateAborted:
		fmt.Fprintln(w, RenderConditional(WarningStyle, "stopped"))
		return nil
	case chat.StateFailed:
		if out.Restore != nil {
			return fmt.Errorf("%w (message not sent)", out.Err)
		}
		return out.Err
	}
	return nil
}
