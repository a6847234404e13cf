// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package request

import (
	"strings"

	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// ImageURL is the object form of an image_url block.
type ImageURL struct {
	URL string `json:"url"`
}

// Block is one wire content block.
type Block struct {
	Type     string    `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	Image    string    `json:"image,omitempty"`
}

// Message is one wire message.
type Message struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}

// ModelConfig is the backend-native generation block.
type ModelConfig struct {
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
}

// Payload is the body of a chat request.
type Payload struct {
	Messages    []Message    `json:"messages"`
	Stream      bool         `json:"stream"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
	MaxTokens   int          `json:"max_tokens"`
	Config      *ModelConfig `json:"config,omitempty"`
}

// NativeDetectPayload is the body of a backend-native /detect request.
type NativeDetectPayload struct {
	Messages []Message   `json:"messages"`
	Config   ModelConfig `json:"config"`
}

func textBlock(s string) Block {
	return Block{Type: "text", Text: &s}
}

// =============================================================================
// OPTIONS
// =============================================================================

// ImageStyle selects how image blocks are written.
type ImageStyle int

const (
	// ImageURLStyle writes {"type":"image_url","image_url":{"url":...}}.
	ImageURLStyle ImageStyle = iota
	// InlineImageStyle writes {"type":"image","image":...}.
	InlineImageStyle
)

func (s ImageStyle) block(url string) Block {
	if s == InlineImageStyle {
		return Block{Type: "image", Image: url}
	}
	return Block{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Overrides replace settings for one request. Nil fields fall back to the
// settings value.
type Overrides struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stream      *bool

	ImageStyle ImageStyle

	// WithConfig attaches the backend-native config block.
	WithConfig bool

	// TrimHistory fits the history to settings.ContextWindow.
	TrimHistory bool
}

// Float returns a pointer to v, for Overrides literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// =============================================================================
// BUILD
// =============================================================================

// Build projects msgs and settings into a chat request. A system message
// from settings.SystemPrompt always comes first. Blocks other than text and
// image are dropped, assistant text is cleaned, and messages left with no
// content are omitted. With TrimHistory and a positive ContextWindow the
// history is fitted to the budget (see FitContext).
func Build(msgs []model.Message, settings config.Settings, ov Overrides) Payload {
	wire := make([]Message, 0, len(msgs)+1)
	wire = append(wire, Message{
		Role:    string(model.RoleSystem),
		Content: []Block{textBlock(settings.SystemPrompt)},
	})
	for _, m := range msgs {
		if wm, ok := project(m, ov.ImageStyle); ok {
			wire = append(wire, wm)
		}
	}
	if ov.TrimHistory && settings.ContextWindow > 0 {
		wire = FitContext(wire, settings.ContextWindow)
	}

	p := Payload{
		Messages:    wire,
		Stream:      true,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		MaxTokens:   settings.MaxTokens,
	}
	if ov.Temperature != nil {
		p.Temperature = *ov.Temperature
	}
	if ov.TopP != nil {
		p.TopP = *ov.TopP
	}
	if ov.MaxTokens != nil {
		p.MaxTokens = *ov.MaxTokens
	}
	if ov.Stream != nil {
		p.Stream = *ov.Stream
	}
	if ov.WithConfig {
		p.Config = &ModelConfig{
			SystemPrompt:  settings.SystemPrompt,
			Temperature:   Float(p.Temperature),
			TopP:          Float(p.TopP),
			MaxTokens:     Int(p.MaxTokens),
			ContextWindow: settings.ContextWindow,
		}
	}
	return p
}

func project(m model.Message, style ImageStyle) (Message, bool) {
	out := Message{Role: string(m.Role)}
	for _, b := range m.Content {
		switch {
		case b.IsText():
			text := b.Text
			if m.Role == model.RoleAssistant {
				text = CleanAssistantText(text)
				if text == "" {
					continue
				}
			}
			out.Content = append(out.Content, textBlock(text))
		case b.IsImage():
			if b.URL == "" {
				continue
			}
			out.Content = append(out.Content, style.block(b.URL))
		}
	}
	return out, len(out.Content) > 0
}

// DetectionOverrides are the sampling parameters used for region detection.
var DetectionOverrides = Overrides{
	Temperature: Float(0.2),
	TopP:        Float(0.95),
	MaxTokens:   Int(2048),
	Stream:      Bool(false),
}

// BuildDetection builds the single-turn detection request: the detection
// prompt followed by the image.
func BuildDetection(settings config.Settings, image string) Payload {
	ov := DetectionOverrides
	return Payload{
		Messages: []Message{{
			Role: string(model.RoleUser),
			Content: []Block{
				textBlock(settings.DetectionPrompt),
				ov.ImageStyle.block(image),
			},
		}},
		Stream:      *ov.Stream,
		Temperature: *ov.Temperature,
		TopP:        *ov.TopP,
		MaxTokens:   *ov.MaxTokens,
	}
}

// NativeDetectInstruction is the user text sent with the image to /detect;
// the detection prompt travels as the system prompt instead.
const NativeDetectInstruction = "Analyze this image for lesions."

// BuildNativeDetection builds a backend-native /detect request.
func BuildNativeDetection(settings config.Settings, image string) NativeDetectPayload {
	return NativeDetectPayload{
		Messages: []Message{{
			Role: string(model.RoleUser),
			Content: []Block{
				InlineImageStyle.block(image),
				textBlock(NativeDetectInstruction),
			},
		}},
		Config: ModelConfig{SystemPrompt: settings.DetectionPrompt},
	}
}

// =============================================================================
// CONTEXT BUDGET
// =============================================================================

// ImageTokenCost is the estimated budget one image consumes.
const ImageTokenCost = 256

// EstimateTokens approximates a message's token cost: a third of its text
// runes plus ImageTokenCost per image.
func EstimateTokens(m Message) int {
	cost := 0
	for _, b := range m.Content {
		switch {
		case b.Text != nil:
			cost += len([]rune(*b.Text)) / 3
		case b.Type == "image" || b.Type == "image_url":
			cost += ImageTokenCost
		}
	}
	return cost
}

func hasImage(m Message) bool {
	for _, b := range m.Content {
		if b.Type == "image" || b.Type == "image_url" {
			return true
		}
	}
	return false
}

// FitContext trims history to limit estimated tokens. The leading system
// message, every message carrying an image and the final message are always
// kept; remaining text messages are admitted newest first until the first
// one that does not fit, so the kept history has no gaps. Relative order is
// preserved.
func FitContext(msgs []Message, limit int) []Message {
	if len(msgs) == 0 || limit <= 0 {
		return msgs
	}

	var system *Message
	work := msgs
	if strings.EqualFold(msgs[0].Role, string(model.RoleSystem)) {
		system = &msgs[0]
		work = msgs[1:]
	}

	used := 0
	if system != nil {
		used += EstimateTokens(*system)
	}
	keep := make([]bool, len(work))
	for i, m := range work {
		if hasImage(m) || i == len(work)-1 {
			keep[i] = true
			used += EstimateTokens(m)
		}
	}
	for i := len(work) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		cost := EstimateTokens(work[i])
		if used+cost > limit {
			break
		}
		keep[i] = true
		used += cost
	}

	out := make([]Message, 0, len(msgs))
	if system != nil {
		out = append(out, *system)
	}
	for i, m := range work {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
