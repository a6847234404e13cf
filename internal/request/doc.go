// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package request projects conversation state into inference request bodies.
//
// Build is pure: it never mutates the messages or settings it is given.
// Assistant turns are cleaned before being sent back as history: the
// reasoning trace, collapsible <details> blocks and tokenizer control
// tokens are removed so only the visible answer is replayed.
package request
