// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/config"
)

func newConfigCommand(st *state) *cobra.Command {
	noApp := map[string]string{annNoApp: annotationTrue}
	show := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(st.resolveConfigPath())
		if err != nil {
			return err
		}
		return printTOML(st.out, cfg.String())
	}

	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Show or edit the configuration file",
		Annotations: noApp,
		Long: `Reads and writes config.toml. Keys use dot notation:
  ` + strings.Join(config.Keys(), "\n  "),
		RunE: show,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:         "show",
			Short:       "Print the effective configuration",
			Args:        cobra.NoArgs,
			Annotations: noApp,
			RunE:        show,
		},
		&cobra.Command{
			Use:         "path",
			Short:       "Print the config file location",
			Args:        cobra.NoArgs,
			Annotations: noApp,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(st.out, st.resolveConfigPath())
				return nil
			},
		},
		&cobra.Command{
			Use:         "get <key>",
			Short:       "Print one value",
			Args:        cobra.ExactArgs(1),
			Annotations: noApp,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(st.resolveConfigPath())
				if err != nil {
					return err
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(st.out, config.FormatValue(v))
				return nil
			},
		},
		&cobra.Command{
			Use:         "set <key> <value>",
			Short:       "Change one value and save the file",
			Example:     `  medgemma config set relay.rate_limit 5`,
			Args:        cobra.ExactArgs(2),
			Annotations: noApp,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := st.resolveConfigPath()
				// Environment overrides are left out so they are not
				// written into the file.
				cfg := config.Default()
				if _, err := os.Stat(path); err == nil {
					if err := config.LoadTOML(cfg, path); err != nil {
						return err
					}
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return err
				}
				if err := os.MkdirAll(dirOf(path), 0700); err != nil {
					return err
				}
				if err := config.Save(cfg, path); err != nil {
					return err
				}
				fmt.Fprintf(st.out, "%s %s = %s\n", RenderStatus("ok"), args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}

// resolveConfigPath is --config or the default location.
func (s *state) resolveConfigPath() string {
	if s.configPath != "" {
		return s.configPath
	}
	p, err := config.Path()
	if err != nil {
		return "config.toml"
	}
	return p
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i > 0 {
		return path[:i]
	}
	return "."
}
