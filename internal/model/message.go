// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "MedGemma"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// UnmarshalText accepts "model" as an alias for assistant, as written by the
// older web client.
func (r *Role) UnmarshalText(b []byte) error {
	switch s := Role(b); s {
	case "model":
		*r = RoleAssistant
	default:
		*r = s
	}
	return nil
}

// =============================================================================
// CONTENT BLOCKS
// =============================================================================

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image_url"

	// blockInlineImage is the backend-native spelling, accepted on read.
	blockInlineImage BlockType = "image"
)

// ContentBlock is either Text{Text} or Image{URL}. URL is a data URI or a
// remote URL. Blocks of any other type keep their raw JSON in Raw so they
// survive a load/save cycle.
type ContentBlock struct {
	Type BlockType
	Text string
	URL  string
	Raw  json.RawMessage
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock returns an image content block.
func ImageBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImage, URL: url}
}

// IsText reports whether the block carries text.
func (b ContentBlock) IsText() bool { return b.Type == BlockText }

// IsImage reports whether the block carries an image.
func (b ContentBlock) IsImage() bool { return b.Type == BlockImage }

type wireImageURL struct {
	URL string `json:"url"`
}

type wireBlock struct {
	Type     BlockType     `json:"type"`
	Text     *string       `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
	Image    *string       `json:"image,omitempty"`
}

// MarshalJSON writes the web client's block shape.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		text := b.Text
		return json.Marshal(wireBlock{Type: BlockText, Text: &text})
	case BlockImage:
		return json.Marshal(wireBlock{Type: BlockImage, ImageURL: &wireImageURL{URL: b.URL}})
	default:
		if len(b.Raw) > 0 {
			return b.Raw, nil
		}
		return json.Marshal(wireBlock{Type: b.Type})
	}
}

// UnmarshalJSON reads text, image_url and image blocks. Anything else is kept
// verbatim.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("content block: %w", err)
	}
	*b = ContentBlock{Type: w.Type}
	switch w.Type {
	case BlockText:
		if w.Text != nil {
			b.Text = *w.Text
		}
	case BlockImage:
		if w.ImageURL != nil {
			b.URL = w.ImageURL.URL
		}
	case blockInlineImage:
		b.Type = BlockImage
		if w.Image != nil {
			b.URL = *w.Image
		}
	default:
		b.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of a conversation.
type Message struct {
	Role            Role           `json:"role"`
	Content         []ContentBlock `json:"content"`
	RelatedImage    string         `json:"relatedImage,omitempty"`
	RelatedFindings []Finding      `json:"relatedFindings,omitempty"`
}

// NewTextMessage creates a message with a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock(text)}}
}

// UnmarshalJSON also accepts a plain string as content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role            Role            `json:"role"`
		Content         json.RawMessage `json:"content"`
		RelatedImage    string          `json:"relatedImage"`
		RelatedFindings []Finding       `json:"relatedFindings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message{
		Role:            raw.Role,
		RelatedImage:    raw.RelatedImage,
		RelatedFindings: raw.RelatedFindings,
	}

	trimmed := strings.TrimSpace(string(raw.Content))
	switch {
	case trimmed == "" || trimmed == "null":
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(raw.Content, &s); err != nil {
			return err
		}
		m.Content = []ContentBlock{TextBlock(s)}
	default:
		if err := json.Unmarshal(raw.Content, &m.Content); err != nil {
			return err
		}
	}
	return nil
}

// FirstText returns the first text block's text.
func (m Message) FirstText() (string, bool) {
	for _, b := range m.Content {
		if b.IsText() {
			return b.Text, true
		}
	}
	return "", false
}

// Text joins all text blocks with newlines.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		if b.IsText() {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Image returns the first image block's URL.
func (m Message) Image() (string, bool) {
	for _, b := range m.Content {
		if b.IsImage() {
			return b.URL, true
		}
	}
	return "", false
}

// HasImage reports whether any block is an image.
func (m Message) HasImage() bool {
	_, ok := m.Image()
	return ok
}

// IsDetectionResult reports whether the message carries detection output
// that can be restored into the image view.
func (m Message) IsDetectionResult() bool {
	return m.RelatedImage != "" && m.RelatedFindings != nil
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = make([]ContentBlock, len(m.Content))
		for i, b := range m.Content {
			out.Content[i] = b
			if b.Raw != nil {
				out.Content[i].Raw = append(json.RawMessage(nil), b.Raw...)
			}
		}
	}
	if m.RelatedFindings != nil {
		out.RelatedFindings = append([]Finding{}, m.RelatedFindings...)
	}
	return out
}

// CloneMessages deep-copies a message list. A nil input yields an empty list.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
