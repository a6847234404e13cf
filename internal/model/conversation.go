// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/medgemma-tui/internal/util"
)

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// ChangeKind classifies a conversation mutation.
type ChangeKind int

const (
	ChangeAppend   ChangeKind = iota // a message was appended
	ChangeDelta                      // streamed text was appended to a message
	ChangeFinalize                   // a streamed message reached its final text
	ChangeEdit                       // a message's text was replaced
	ChangeRemove                     // a message was removed
	ChangeReplace                    // the whole list was swapped (session switch)
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAppend:
		return "append"
	case ChangeDelta:
		return "delta"
	case ChangeFinalize:
		return "finalize"
	case ChangeEdit:
		return "edit"
	case ChangeRemove:
		return "remove"
	case ChangeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Change describes one mutation. Index is the affected message, or -1.
type Change struct {
	Kind      ChangeKind
	Version   uint64
	SessionID string
	Index     int
}

// Observer receives changes after the conversation lock is released, so it
// may read the conversation.
type Observer func(Change)

// =============================================================================
// CONVERSATION
// =============================================================================

// entry gives each message a stable identity for Handles.
type entry struct {
	msg Message
}

// Conversation is the in-memory message list of the active session. All
// mutations bump Version and notify observers in order.
type Conversation struct {
	mu        sync.Mutex
	sessionID string
	entries   []*entry
	version   uint64

	obsMu     sync.Mutex
	observers []Observer
}

// NewConversation creates a conversation for sessionID holding a copy of msgs.
func NewConversation(sessionID string, msgs []Message) *Conversation {
	c := &Conversation{sessionID: sessionID}
	c.entries = toEntries(msgs)
	return c
}

func toEntries(msgs []Message) []*entry {
	out := make([]*entry, len(msgs))
	for i, m := range msgs {
		out[i] = &entry{msg: m.Clone()}
	}
	return out
}

// Subscribe registers an observer. Observers run synchronously on the
// mutating goroutine.
func (c *Conversation) Subscribe(fn Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// bump must be called with mu held.
func (c *Conversation) bump(kind ChangeKind, index int) Change {
	c.version++
	return Change{Kind: kind, Version: c.version, SessionID: c.sessionID, Index: index}
}

func (c *Conversation) notify(ch Change) {
	c.obsMu.Lock()
	obs := append([]Observer(nil), c.observers...)
	c.obsMu.Unlock()
	for _, fn := range obs {
		fn(ch)
	}
}

// SessionID returns the id of the session this conversation belongs to.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Version returns the mutation counter.
func (c *Conversation) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Messages returns a deep copy of the message list.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg.Clone()
	}
	return out
}

// At returns a copy of message i.
func (c *Conversation) At(i int) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.entries) {
		return Message{}, false
	}
	return c.entries[i].msg.Clone(), true
}

// Last returns a copy of the final message.
func (c *Conversation) Last() (Message, bool) {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return c.At(n - 1)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AppendUser appends a user message built from text and an image URL. At
// least one must be non-empty; the image block precedes the text block.
func (c *Conversation) AppendUser(text, image string) (Message, error) {
	text = util.NormalizeInput(text)
	if strings.TrimSpace(text) == "" && image == "" {
		return Message{}, &ValidationError{Field: "message", Message: "text or image required"}
	}

	msg := Message{Role: RoleUser}
	if image != "" {
		msg.Content = append(msg.Content, ImageBlock(image))
	}
	if strings.TrimSpace(text) != "" {
		msg.Content = append(msg.Content, TextBlock(text))
	}

	c.append(msg)
	return msg.Clone(), nil
}

// AppendMessage appends a complete message. Empty content is rejected.
func (c *Conversation) AppendMessage(msg Message) error {
	if len(msg.Content) == 0 {
		return &ValidationError{Field: "content", Message: "message has no content"}
	}
	c.append(msg.Clone())
	return nil
}

func (c *Conversation) append(msg Message) *entry {
	e := &entry{msg: msg}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	ch := c.bump(ChangeAppend, len(c.entries)-1)
	c.mu.Unlock()
	c.notify(ch)
	return e
}

// AppendAssistantPlaceholder appends an assistant message with one empty
// text block and returns a handle for filling it in.
func (c *Conversation) AppendAssistantPlaceholder() *Handle {
	e := c.append(NewTextMessage(RoleAssistant, ""))
	return &Handle{conv: c, e: e}
}

// RemoveLast removes and returns the final message.
func (c *Conversation) RemoveLast() (Message, bool) {
	c.mu.Lock()
	n := len(c.entries)
	if n == 0 {
		c.mu.Unlock()
		return Message{}, false
	}
	removed := c.entries[n-1].msg
	c.entries = c.entries[:n-1]
	ch := c.bump(ChangeRemove, n-1)
	c.mu.Unlock()
	c.notify(ch)
	return removed, true
}

// RemoveAt removes message i.
func (c *Conversation) RemoveAt(i int) (Message, error) {
	c.mu.Lock()
	if i < 0 || i >= len(c.entries) {
		c.mu.Unlock()
		return Message{}, fmt.Errorf("remove %d of %d: %w", i, len(c.entries), ErrIndexOutOfRange)
	}
	removed := c.entries[i].msg
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	ch := c.bump(ChangeRemove, i)
	c.mu.Unlock()
	c.notify(ch)
	return removed, nil
}

// EditText replaces the first text block of message i, or appends a text
// block when the message has none (an image-only turn).
func (c *Conversation) EditText(i int, text string) error {
	text = util.NormalizeInput(text)
	c.mu.Lock()
	if i < 0 || i >= len(c.entries) {
		c.mu.Unlock()
		return fmt.Errorf("edit %d of %d: %w", i, len(c.entries), ErrIndexOutOfRange)
	}
	msg := &c.entries[i].msg
	edited := false
	for j := range msg.Content {
		if msg.Content[j].IsText() {
			msg.Content[j].Text = text
			edited = true
			break
		}
	}
	if !edited {
		msg.Content = append(msg.Content, TextBlock(text))
	}
	ch := c.bump(ChangeEdit, i)
	c.mu.Unlock()
	c.notify(ch)
	return nil
}

// Replace swaps in another session's messages.
func (c *Conversation) Replace(sessionID string, msgs []Message) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.entries = toEntries(msgs)
	ch := c.bump(ChangeReplace, -1)
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Conversation) indexOf(e *entry) int {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i] == e {
			return i
		}
	}
	return -1
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle addresses one message by identity, so it stays valid while other
// messages are inserted or removed around it.
type Handle struct {
	conv *Conversation
	e    *entry
}

// AppendText appends delta to the message's last text block. Deltas for a
// message that has been removed are dropped.
func (h *Handle) AppendText(delta string) bool {
	if delta == "" {
		return true
	}
	c := h.conv
	c.mu.Lock()
	idx := c.indexOf(h.e)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	content := h.e.msg.Content
	last := -1
	for j := len(content) - 1; j >= 0; j-- {
		if content[j].IsText() {
			last = j
			break
		}
	}
	if last < 0 {
		h.e.msg.Content = append(h.e.msg.Content, TextBlock(delta))
	} else {
		content[last].Text += delta
	}
	ch := c.bump(ChangeDelta, idx)
	c.mu.Unlock()
	c.notify(ch)
	return true
}

// Text returns the message's text.
func (h *Handle) Text() string {
	h.conv.mu.Lock()
	defer h.conv.mu.Unlock()
	return h.e.msg.Text()
}

// Index returns the message's current position, or -1 once removed.
func (h *Handle) Index() int {
	h.conv.mu.Lock()
	defer h.conv.mu.Unlock()
	return h.conv.indexOf(h.e)
}

// Remove deletes the message from the conversation.
func (h *Handle) Remove() bool {
	c := h.conv
	c.mu.Lock()
	idx := c.indexOf(h.e)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	ch := c.bump(ChangeRemove, idx)
	c.mu.Unlock()
	c.notify(ch)
	return true
}

// Finalize marks the end of streaming into this message.
func (h *Handle) Finalize() {
	c := h.conv
	c.mu.Lock()
	idx := c.indexOf(h.e)
	ch := c.bump(ChangeFinalize, idx)
	c.mu.Unlock()
	c.notify(ch)
}
