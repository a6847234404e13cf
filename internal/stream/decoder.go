// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// =============================================================================
// FRAMING
// =============================================================================

// Framing selects how a response body is split into deltas.
type Framing int

const (
	FramingEvent Framing = iota // "data: {...}" lines ending with [DONE]
	FramingRaw                  // literal text
)

// String returns the framing name.
func (f Framing) String() string {
	switch f {
	case FramingEvent:
		return "event"
	case FramingRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Decoder turns body chunks into text deltas. Feed reports done once the
// stream's terminal frame has been seen; later input is ignored. Flush
// drains whatever is buffered when the body ends without a terminal frame.
type Decoder interface {
	Feed(chunk []byte) (deltas []string, done bool)
	Flush() []string
}

// NewDecoder returns a fresh decoder for f.
func NewDecoder(f Framing) Decoder {
	if f == FramingRaw {
		return &RawDecoder{}
	}
	return &EventDecoder{}
}

// DecodeError describes one skipped frame.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return fmt.Sprintf("malformed frame %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// =============================================================================
// EVENT DECODER
// =============================================================================

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// Chunk is one event frame of a streamed chat completion.
type Chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the first choice's delta text.
func (c *Chunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// EventDecoder decodes "data:" line framing. Only newline-terminated lines
// are decoded; the incomplete tail waits in buf for the next chunk.
type EventDecoder struct {
	buf  []byte
	done bool

	skipped int

	// OnSkip, if set, sees every frame dropped as malformed.
	OnSkip func(*DecodeError)
}

// Feed decodes the complete lines in buf+chunk.
func (d *EventDecoder) Feed(chunk []byte) ([]string, bool) {
	if d.done {
		return nil, true
	}
	d.buf = append(d.buf, chunk...)

	var deltas []string
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if delta, ok := d.line(line); ok {
			deltas = append(deltas, delta)
		}
	}

	if d.done {
		d.buf = nil
	} else if len(d.buf) > 0 {
		// Compact so the consumed prefix can be collected.
		d.buf = append([]byte(nil), d.buf...)
	}
	return deltas, d.done
}

// Flush decodes a final line that arrived without a newline.
func (d *EventDecoder) Flush() []string {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if delta, ok := d.line(line); ok {
		return []string{delta}
	}
	return nil
}

// Done reports whether [DONE] has been seen.
func (d *EventDecoder) Done() bool { return d.done }

// Skipped returns how many frames were malformed.
func (d *EventDecoder) Skipped() int { return d.skipped }

func (d *EventDecoder) line(raw []byte) (string, bool) {
	line := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// Blank separators, comments and event/id fields carry no text.
		return "", false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if string(payload) == doneMarker {
		d.done = true
		return "", false
	}

	var c Chunk
	if err := json.Unmarshal(payload, &c); err != nil {
		d.skipped++
		if d.OnSkip != nil {
			d.OnSkip(&DecodeError{Line: string(line), Err: err})
		}
		return "", false
	}
	content := c.Content()
	return content, content != ""
}

// =============================================================================
// RAW DECODER
// =============================================================================

// RawDecoder passes bytes through as text, holding back an incomplete UTF-8
// sequence at the end of a chunk until the rest arrives.
type RawDecoder struct {
	pending []byte
}

// Feed returns the complete characters of pending+chunk.
func (d *RawDecoder) Feed(chunk []byte) ([]string, bool) {
	data := append(d.pending, chunk...)
	cut := completePrefix(data)
	d.pending = append([]byte(nil), data[cut:]...)
	if cut == 0 {
		return nil, false
	}
	return []string{string(data[:cut])}, false
}

// Flush returns any held-back bytes as-is.
func (d *RawDecoder) Flush() []string {
	if len(d.pending) == 0 {
		return nil
	}
	out := string(d.pending)
	d.pending = nil
	return []string{out}
}

// completePrefix returns the length of data without a trailing partial rune.
func completePrefix(data []byte) int {
	n := len(data)
	for back := 1; back <= utf8.UTFMax && back <= n; back++ {
		start := n - back
		if !utf8.RuneStart(data[start]) {
			continue
		}
		if !utf8.FullRune(data[start:]) {
			return start
		}
		break
	}
	return n
}
