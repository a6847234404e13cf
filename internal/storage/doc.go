// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for medgemma-tui.
//
// Sessions live in a key-value store using the same keys as the web client:
//
//	medgemma_sessions          session index, most recently modified first
//	medgemma_session_<id>      the session's message array
//	medgemma_settings          generation settings (see package config)
//
// Three KV backends are provided: FileKV (one JSON file per key),
// SQLiteKV (a single kv table) and MemoryKV (tests and ephemeral runs).
//
// # Usage
//
//	kv, err := storage.Open(storage.BackendFile, dir)
//	store := storage.NewSessionStore(kv, logger)
//	sess := store.Create()
//	store.Save(sess.ID, msgs)
package storage
