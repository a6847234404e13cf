// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session ties the live conversation to the session store.
//
// A Manager owns one model.Conversation and subscribes to it: every
// mutation (append, streamed delta, edit, remove, end of a stream) is written
// back through storage.SessionStore synchronously, so partial replies
// survive a crash.
//
// The Manager also keeps the image view state that goes with the active
// session: the image being looked at and the findings drawn over it.
//
// # Usage
//
//	mgr := session.NewManager(store, logger)
//	if err := mgr.Init(); err != nil {
//	    return err
//	}
//	conv := mgr.Conversation()
package session
