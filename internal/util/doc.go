// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across medgemma-tui.
//
// # Key Functions
//
// String Utilities:
//   - TruncateTitle: keep the first N runes and mark the cut with "..."
//   - TruncateWidth: CJK-aware truncation by display columns
//   - NormalizeInput: NFC normalization of user-typed text
//
// Images:
//   - ImageDataURI: read an image file into a data URI
//   - SummarizeImage: short log-safe placeholder for image payloads
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.TruncateTitle(firstLine, 20)
//	uri, err := util.ImageDataURI("chest.png")
//	err = util.AtomicWriteFile(path, data, 0644)
package util
