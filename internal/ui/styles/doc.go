// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the colors and lipgloss styles of the terminal UI.
// Colors are lipgloss.AdaptiveColor values so one palette serves dark and
// light terminals.
package styles
