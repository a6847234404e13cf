// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/server"
)

func newRelayCommand(st *state) *cobra.Command {
	var (
		listen  string
		backend string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the logging reverse proxy for the web client",
		Long: `Serves the web client and forwards /api/* to the inference backend,
streaming responses through unchanged. Request bodies are logged with
image data summarized. Requests are rate limited per client address.

The [relay] section of the config file is reloaded when it changes.`,
		Example: `  medgemma relay --listen :3000 --backend http://gpu-box:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := st.app
			cfg := app.Config.Relay
			if listen != "" {
				cfg.Listen = listen
			}
			if backend != "" {
				cfg.Backend = backend
			}
			return runRelay(cmd.Context(), app, cfg, watch)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "backend base URL (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file on change")
	return cmd
}

func runRelay(ctx context.Context, app *App, cfg config.RelayConfig, watch bool) error {
	srv, err := server.New(cfg, app.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger.Named("relay")
	logger.Info("relay starting",
		zap.String("listen", cfg.Listen),
		zap.String("backend", srv.Backend()),
		zap.Float64("rate_limit", cfg.RateLimit))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if watch {
		g.Go(func() error {
			return config.Watch(ctx, app.ConfigPath, 500*time.Millisecond, logger, func(c *config.Config) {
				next := c.Relay
				// flags win over the file
				next.Listen = cfg.Listen
				if err := srv.Reconfigure(next); err != nil {
					logger.Warn("config reload rejected", zap.Error(err))
				}
			})
		})
	}
	return g.Wait()
}
