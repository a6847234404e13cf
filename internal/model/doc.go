// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Message: role, ordered content blocks, and optional detection attachments
//   - ContentBlock: a text or image block (JSON compatible with the web client)
//   - Finding: a detected region of interest with its bounding box
//   - Conversation: the active session's message list, observable and versioned
//
// # Usage
//
//	conv := model.NewConversation(sessionID, nil)
//	conv.Subscribe(func(c model.Change) { ... })
//	if _, err := conv.AppendUser("What does this show?", imageURI); err != nil {
//	    // *model.ValidationError: nothing to send
//	}
//	h := conv.AppendAssistantPlaceholder()
//	h.AppendText("The image shows ")
package model
