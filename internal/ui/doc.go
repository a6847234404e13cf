// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui is the full-screen terminal interface, built on Bubble Tea.
//
// # Layout
//
//	+----------+------------------------------+-----------+
//	| sessions | conversation (viewport)      | image and |
//	| sidebar  |                              | findings  |
//	+----------+------------------------------+-----------+
//	| input (textarea)                                    |
//	| status bar                                          |
//
// # Streaming
//
// Replies run in a tea.Cmd goroutine through chat.Reconciler, which writes
// deltas straight into the shared conversation. The reconciler's delta
// callback only marks a StreamingBuffer dirty; a 30fps tick re-renders the
// viewport from a conversation snapshot while a reply is in flight.
//
// # Keys
//
//	Enter        send (lines starting with / are commands)
//	Alt+Enter    newline
//	Esc          stop the current reply or detection
//	Ctrl+N       new session
//	Tab          focus the session list (Enter switches, d deletes)
//	Ctrl+B       toggle the session list
//	Ctrl+P       toggle the image panel
//	Ctrl+R       expand or collapse reasoning
//	PgUp/PgDn    scroll
//	F1           help
//	Ctrl+C       stop, or quit when idle
package ui
