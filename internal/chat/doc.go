// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat drives exchanges with the model.

# Reconciler

A Reconciler runs one exchange at a time against a model.Conversation:

	Idle -> Sending -> Streaming -> Completed | Aborted | Failed -> Idle

Send appends the user turn, builds the request, opens the stream and feeds
every decoded delta into an assistant placeholder in arrival order. A second
Send while an exchange is in flight returns ErrBusy and changes nothing.

Two flows are supported:

  - FlowChat: OpenAI-style event stream. The placeholder is created before
    the request is sent and removed again if the request fails without
    output.
  - FlowAnalysis: backend-native raw text stream with the generation config
    embedded in the body. The placeholder is created when the first delta
    arrives.

Abort cancels the read and marks the reply with "[stopped]". A failure with
no output removes the placeholder, pops the user turn and returns it in
Outcome.Restore so it can be resubmitted; a failure after partial output
keeps the text and appends an error note.

# Detector

Detector runs the non-streaming region detection exchange and appends a
summary message carrying the image and its findings.
*/
package chat
