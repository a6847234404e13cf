// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// frameInterval caps redraws during streaming at about 30fps.
const frameInterval = 33 * time.Millisecond

// StreamingBuffer collects delta notifications from the reply goroutine
// and tells the render loop when enough has arrived to redraw. The text
// itself lives in the conversation; only counts are kept here.
type StreamingBuffer struct {
	mu        sync.Mutex
	pending   int
	chars     int
	total     int
	lastFlush time.Time

	batchSize int
	minFlush  time.Duration
	now       func() time.Time
}

// NewStreamingBuffer returns a buffer that flushes after batchSize deltas
// or minFlush, whichever comes first.
func NewStreamingBuffer(batchSize int, minFlush time.Duration) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = 15
	}
	if minFlush <= 0 {
		minFlush = frameInterval
	}
	return &StreamingBuffer{batchSize: batchSize, minFlush: minFlush, now: time.Now, lastFlush: time.Now()}
}

// Write records one delta. Safe to call from any goroutine.
func (sb *StreamingBuffer) Write(delta string) {
	sb.mu.Lock()
	sb.pending++
	sb.chars += len(delta)
	sb.total += len(delta)
	sb.mu.Unlock()
}

// Flush reports whether a redraw is due, returning the number of bytes
// received since the last flush.
func (sb *StreamingBuffer) Flush() (int, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.pending == 0 {
		return 0, false
	}
	if sb.pending < sb.batchSize && sb.now().Sub(sb.lastFlush) < sb.minFlush {
		return 0, false
	}
	n := sb.chars
	sb.pending, sb.chars = 0, 0
	sb.lastFlush = sb.now()
	return n, true
}

// Total is the number of bytes received since the last Reset.
func (sb *StreamingBuffer) Total() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.total
}

// Reset clears all counts.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	sb.pending, sb.chars, sb.total = 0, 0, 0
	sb.lastFlush = sb.now()
	sb.mu.Unlock()
}

// streamTickMsg drives redraws while a reply is in flight.
type streamTickMsg time.Time

func streamTickCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return streamTickMsg(t)
	})
}
