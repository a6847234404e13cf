// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements the logging relay that sits between a browser
// or terminal client and the MedGemma inference backend.
//
// Endpoints:
//   - ANY /api/*         - forwarded verbatim to the backend, streamed back
//   - GET /env-config.js - client bootstrap pointing the web UI at the relay
//   - GET /*             - static files from static_dir, with index.html fallback
//
// Request bodies are logged with inline images reduced to a short summary.
// Backend, rate limits and body logging can be changed at runtime through
// Reconfigure; the listen address cannot.
package server
