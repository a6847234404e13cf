// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/config"
)

func newSettingsCommand(st *state) *cobra.Command {
	show := func(cmd *cobra.Command, args []string) error {
		return printJSON(st.app.Out, st.app.Settings.Get())
	}
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change generation settings",
		Long: `Generation settings are sent with every request and persist with the
sessions. Keys: ` + strings.Join(config.SettingKeys(), ", ") + `.`,
		RunE: show,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print all settings",
			Args:  cobra.NoArgs,
			RunE:  show,
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := st.app.Settings.Get().Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(st.app.Out, config.FormatValue(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting",
			Example: `  medgemma settings set temperature 0.3
  medgemma settings set systemPrompt "Answer briefly."`,
			Args: cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				app := st.app
				if _, err := app.Settings.Update(args[0], strings.Join(args[1:], " ")); err != nil {
					return err
				}
				v, _ := app.Settings.Get().Get(args[0])
				fmt.Fprintln(app.Out, RenderLabel(args[0])+config.FormatValue(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restore the default settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(st.app.Out, st.app.Settings.Reset())
			},
		},
	)
	return cmd
}
