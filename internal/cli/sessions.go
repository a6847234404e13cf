// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/export"
	"github.com/jeranaias/medgemma-tui/internal/session"
)

func newSessionsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List and manage saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := st.app
			printSessionList(app.Out, app.Manager.List(), currentID(app), time.Now())
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app := st.app
				printSessionList(app.Out, app.Manager.List(), currentID(app), time.Now())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <n|id>",
			Short: "Print a session transcript",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app := st.app
				id, err := resolveSessionRef(app.Manager.List(), args[0])
				if err != nil {
					return err
				}
				printTranscript(app.Out, newRenderer(app.Config.UI.Theme, app.Config.UI.ShowReasoning), app.Store.Load(id))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <n|id>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app := st.app
				id, err := resolveSessionRef(app.Manager.List(), args[0])
				if err != nil {
					return err
				}
				if err := app.Manager.Delete(id); err != nil {
					return err
				}
				fmt.Fprintln(app.Out, RenderStatus("ok")+" deleted "+id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app := st.app
				n := len(app.Manager.List())
				if err := app.Manager.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "%s removed %d sessions\n", RenderStatus("ok"), n)
				return nil
			},
		},
		newSessionsExportCommand(st),
	)
	return cmd
}

func newSessionsExportCommand(st *state) *cobra.Command {
	opts := export.DefaultOptions()
	var format string
	cmd := &cobra.Command{
		Use:   "export [n|id]",
		Short: "Export a session to a file",
		Long: `Writes a session as Markdown, JSON or YAML. Without an argument the
most recent session is exported.

Images are replaced by a short placeholder unless --images is given.`,
		Example: `  medgemma sessions export
  medgemma sessions export 2 --format json --dir ./out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := st.app
			sessions := app.Manager.List()
			if len(sessions) == 0 {
				return session.ErrSessionNotFound
			}
			id := sessions[0].ID
			if len(args) == 1 {
				var err error
				if id, err = resolveSessionRef(sessions, args[0]); err != nil {
					return err
				}
			}
			s, _ := app.Store.Get(id)

			exp, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			path, err := export.ExportToFile(export.NewDocument(s, app.Store.Load(id)), exp, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "md, json or yaml")
	cmd.Flags().StringVarP(&opts.OutputDir, "dir", "d", opts.OutputDir, "output directory")
	cmd.Flags().BoolVar(&opts.IncludeReasoning, "reasoning", opts.IncludeReasoning, "keep the model's reasoning")
	cmd.Flags().BoolVar(&opts.IncludeImages, "images", opts.IncludeImages, "embed full image data")
	cmd.Flags().BoolVar(&opts.IncludeMetadata, "metadata", opts.IncludeMetadata, "include session metadata")
	return cmd
}

// currentID is the most recent session, which is the one chat resumes.
func currentID(app *App) string {
	if id := app.Manager.CurrentID(); id != "" {
		return id
	}
	if list := app.Manager.List(); len(list) > 0 {
		return list[0].ID
	}
	return ""
}
