// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/stream"
)

// State is a reconciler state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Busy reports whether s is an in-flight state.
func (s State) Busy() bool {
	return s == StateSending || s == StateStreaming
}

// Flow selects request shape and stream framing.
type Flow int

const (
	FlowChat Flow = iota
	FlowAnalysis
)

func (f Flow) String() string {
	if f == FlowAnalysis {
		return config.FlowAnalysis
	}
	return config.FlowChat
}

// Framing is the stream framing the flow expects.
func (f Flow) Framing() stream.Framing {
	if f == FlowAnalysis {
		return stream.FramingRaw
	}
	return stream.FramingEvent
}

// ParseFlow maps a config value to a Flow.
func ParseFlow(s string) (Flow, error) {
	switch s {
	case "", config.FlowChat:
		return FlowChat, nil
	case config.FlowAnalysis:
		return FlowAnalysis, nil
	default:
		return FlowChat, fmt.Errorf("unknown flow %q", s)
	}
}

// =============================================================================
// CANCEL MANAGEMENT
// =============================================================================

// cancelManager guards the cancel function of the in-flight exchange, which
// is set by the exchange goroutine and called from whoever aborts.
type cancelManager struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	aborted    bool
}

func (cm *cancelManager) set(fn context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cancelFunc = fn
	cm.aborted = false
}

// abort cancels the exchange. It reports false when nothing is in flight.
func (cm *cancelManager) abort() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancelFunc == nil {
		return false
	}
	cm.aborted = true
	cm.cancelFunc()
	cm.cancelFunc = nil
	return true
}

// clear releases the context without marking an abort.
func (cm *cancelManager) clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancelFunc != nil {
		cm.cancelFunc()
		cm.cancelFunc = nil
	}
}

func (cm *cancelManager) wasAborted() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.aborted
}
