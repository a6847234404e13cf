// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/logging"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command annotations read by the pre-run hook.
const (
	annNoApp       = "medgemma/no-app"
	annFullscreen  = "medgemma/fullscreen"
	annotationTrue = "true"
)

// state is shared by every command of one invocation.
type state struct {
	configPath string
	flow       string
	verbose    bool
	quiet      bool

	out io.Writer
	err io.Writer
	app *App
}

func (s *state) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// NewRootCommand builds the command tree. The returned closer releases
// whatever the pre-run hook opened and must be called after Execute.
func NewRootCommand(out, errOut io.Writer) (*cobra.Command, func() error) {
	st := &state{out: out, err: errOut}

	root := &cobra.Command{
		Use:   "medgemma",
		Short: "Terminal client for the MedGemma medical imaging assistant",
		Long: `medgemma chats with a MedGemma inference backend about medical images.

Conversations are kept as sessions on disk. Attach an image, ask about it,
and run region detection to get labeled boxes on the image.

Run without arguments to start the terminal UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annNoApp] == annotationTrue {
				return nil
			}
			return st.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), st.app)
		},
	}
	root.Annotations = map[string]string{annFullscreen: annotationTrue}

	flags := root.PersistentFlags()
	flags.StringVar(&st.configPath, "config", "", "config file (default $MEDGEMMA_HOME/config.toml)")
	flags.StringVar(&st.flow, "flow", "", "request flow: chat or analysis")
	flags.BoolVarP(&st.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&st.quiet, "quiet", "q", false, "no log output")

	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(
		newTUICommand(st),
		newChatCommand(st),
		newAskCommand(st),
		newDetectCommand(st),
		newSessionsCommand(st),
		newSettingsCommand(st),
		newConfigCommand(st),
		newRelayCommand(st),
		newStatusCommand(st),
		newVersionCommand(st),
	)
	return root, st.close
}

// setup loads configuration and builds the App.
func (s *state) setup(cmd *cobra.Command) error {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(s.err, RenderConditional(WarningStyle, "warning: .env: "+err.Error()))
	}

	path := s.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if s.flow != "" {
		if err := cfg.Set("api.flow", s.flow); err != nil {
			return err
		}
	}

	fullscreen := cmd.Annotations[annFullscreen] == annotationTrue
	logger, level, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Verbose: s.verbose,
		// stderr shares the screen with the TUI
		Quiet: s.quiet || (fullscreen && cfg.Logging.File == ""),
	})
	if err != nil {
		return err
	}

	app, err := NewApp(cfg, path, logger, level, s.out, s.err)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	s.app = app
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	lipgloss.SetColorProfile(GetColorProfile())

	root, closeApp := NewRootCommand(os.Stdout, os.Stderr)
	err := root.ExecuteContext(context.Background())
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, RenderConditional(ErrorStyle, "Error:")+" "+err.Error())
		return 1
	}
	return 0
}
