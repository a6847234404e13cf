// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes streamed model output into text deltas.
//
// Two framings are supported:
//
//   - Event framing: "data: <json>" lines carrying choices[0].delta.content,
//     terminated by "data: [DONE]".
//   - Raw framing: every byte of the body is literal text.
//
// Decoders are push-based (Feed a chunk, get the deltas it completed) and
// tolerate chunk boundaries anywhere, including inside a UTF-8 sequence.
// Reader adapts a Decoder to an io.Reader and yields deltas one at a time,
// returning io.EOF at the end of the stream.
package stream
