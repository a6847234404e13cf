// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat sessions to portable files.
//
// # Key Types
//
//   - Document: a session header plus its messages
//   - Exporter: the format interface
//   - Options: what to include (reasoning traces, inline images)
//
// # Supported Formats
//
//   - Markdown: human-readable, with YAML frontmatter and findings tables
//   - JSON: the stored message shape, re-importable
//   - YAML: the same data as JSON, easier to diff by hand
//
// # Usage
//
//	doc := export.NewDocument(session, messages)
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	path, err := export.ExportToFile(doc, exp, export.DefaultOptions())
package export
