// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the medgemma command line.
//
// Commands:
//
//	medgemma                   Start the terminal UI (same as "medgemma tui")
//	medgemma chat              Interactive REPL with slash commands
//	medgemma ask TEXT          One-shot question, optionally with --image
//	medgemma detect IMAGE      Region detection on an image
//	medgemma sessions ...      list, show, delete, export, clear
//	medgemma settings ...      show, set, reset the generation settings
//	medgemma config ...        show, get, set, path for config.toml
//	medgemma relay             Run the logging relay
//	medgemma status            Check the backend
//	medgemma version           Print version information
//
// Every command shares one App, built in the root command's pre-run hook
// from config.toml, the environment and the global flags.
package cli
