// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and generation settings for
// medgemma-tui.
//
// Two layers are kept apart:
//
//   - Config: how the program runs (endpoint, storage backend, relay, UI,
//     logging). Loaded from ~/.medgemma/config.toml with environment
//     overrides.
//   - Settings: what is sent to the model (prompts, sampling parameters,
//     endpoint URL). Persisted under the medgemma_settings key and changed
//     only through SettingsStore.Update and Reset.
//
// # Configuration Precedence
//
//   - Environment variables (MEDGEMMA_*, API_URL, PORT)
//   - ~/.medgemma/config.toml (or the file given with --config)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	settings := config.NewSettingsStore(kv, config.DefaultSettings(cfg.API.Endpoint), logger)
//	s, err := settings.Update("temperature", "0.4")
package config
