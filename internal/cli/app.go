// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/session"
	"github.com/jeranaias/medgemma-tui/internal/storage"
)

// App holds everything a command needs.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zap.Logger
	Level      zap.AtomicLevel

	KV       storage.KV
	Store    *storage.SessionStore
	Settings *config.SettingsStore
	Manager  *session.Manager
	Client   *client.Client
	Detector *chat.Detector
	Flow     chat.Flow

	Out io.Writer
	Err io.Writer
}

// NewApp opens storage and wires the chat core. Sessions are not loaded
// until the command asks for them with Manager.Init.
func NewApp(cfg *config.Config, cfgPath string, logger *zap.Logger, level zap.AtomicLevel, out, errOut io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	flow, err := chat.ParseFlow(cfg.API.Flow)
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(storage.Backend(cfg.Storage.Backend), cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	store := storage.NewSessionStore(kv, logger.Named("store"))
	settings := config.NewSettingsStore(kv, config.DefaultSettings(cfg.API.Endpoint), logger.Named("settings"))
	manager := session.NewManager(store, logger.Named("session"))

	apiClient := client.New(client.Config{
		ConnectTimeout: time.Duration(cfg.API.ConnectTimeoutSeconds) * time.Second,
		Logger:         logger.Named("client"),
	})

	app := &App{
		Config:     cfg,
		ConfigPath: cfgPath,
		Logger:     logger,
		Level:      level,
		KV:         kv,
		Store:      store,
		Settings:   settings,
		Manager:    manager,
		Client:     apiClient,
		Flow:       flow,
		Out:        out,
		Err:        errOut,
	}
	app.Detector = chat.NewDetector(manager.Conversation(), chat.DetectorOptions{
		Settings: settings.Get,
		Logger:   logger.Named("detect"),
	})

	logger.Debug("app ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("dir", cfg.Storage.Dir),
		zap.String("flow", flow.String()),
		zap.String("endpoint", settings.Get().APIEndpoint))
	return app, nil
}

// NewReconciler creates a reconciler on the active conversation. Each
// front end supplies its own callbacks.
func (a *App) NewReconciler(onState func(chat.State), onDelta func(string)) *chat.Reconciler {
	return chat.NewReconciler(a.Manager.Conversation(), a.Client, chat.Options{
		Flow:        a.Flow,
		Settings:    a.Settings.Get,
		TrimHistory: a.Config.API.TrimHistory,
		OnState:     onState,
		OnDelta:     onDelta,
		Logger:      a.Logger.Named("chat"),
	})
}

// Close releases storage and flushes the logger.
func (a *App) Close() error {
	var errs []error
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
