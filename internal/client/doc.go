// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the MedGemma inference API.
//
// Streaming requests return the raw response body; decoding belongs to
// package stream. Only connection setup is bounded by a timeout. After that
// the caller's context is the only deadline, so a slow detection or a long
// generation is never cut off.
//
// Errors are *Error values carrying an ErrorType:
//
//	body, err := c.OpenStream(ctx, url, payload)
//	if client.IsCanceled(err) {
//	    // user pressed stop
//	}
package client
