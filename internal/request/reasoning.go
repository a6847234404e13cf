// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package request

import (
	"regexp"
	"strings"
)

// Reasoning trace grammar:
//
//	text    = before [ open thought ( close after | EOF ) ]
//	open    = "<think>" | "<unused94>" | "&lt;think&gt;" | "&lt;unused94&gt;"
//	close   = "</think>" | "<unused95>" | "&lt;/think&gt;" | "&lt;unused95&gt;"
//
// Tags match case-insensitively. Only the first open tag starts a trace; an
// open tag with no close tag runs to the end of the text. Any later trace
// blocks stay in the answer untouched.
var (
	openTags  = []string{"<think>", "<unused94>", "&lt;think&gt;", "&lt;unused94&gt;"}
	closeTags = []string{"</think>", "<unused95>", "&lt;/think&gt;", "&lt;unused95&gt;"}
)

// Reasoning is the result of splitting model output.
type Reasoning struct {
	Thought    string
	Answer     string
	HasThought bool

	// Closed is false when the trace ran to the end of the text, which
	// during streaming means the model is still thinking.
	Closed bool
}

// ParseReasoning splits text into its first reasoning trace and the answer.
func ParseReasoning(text string) Reasoning {
	lower := asciiLower(text)

	start, openLen := indexAny(lower, openTags)
	if start < 0 {
		return Reasoning{Answer: strings.TrimSpace(text)}
	}

	body := start + openLen
	end, closeLen := indexAny(lower[body:], closeTags)
	if end < 0 {
		return Reasoning{
			Thought:    strings.TrimSpace(text[body:]),
			Answer:     strings.TrimSpace(text[:start]),
			HasThought: true,
		}
	}

	end += body
	return Reasoning{
		Thought:    strings.TrimSpace(text[body:end]),
		Answer:     strings.TrimSpace(text[:start] + text[end+closeLen:]),
		HasThought: true,
		Closed:     true,
	}
}

// StripReasoning returns text without its first reasoning trace.
func StripReasoning(text string) string {
	return ParseReasoning(text).Answer
}

// indexAny returns the earliest match of any tag and its length.
func indexAny(s string, tags []string) (int, int) {
	best, bestLen := -1, 0
	for _, tag := range tags {
		if i := strings.Index(s, tag); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(tag)
		}
	}
	return best, bestLen
}

// asciiLower lowercases ASCII letters only, so byte offsets in the result
// line up with the original string.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

var (
	systemTokenRe = regexp.MustCompile(`(?i)</s>|<eos>|<pad>|<bos>|<end_of_turn>`)
	detailsRe     = regexp.MustCompile(`(?is)<details[\s>].*?</details>`)
)

// StripSystemTokens removes tokenizer control tokens that leak into output.
func StripSystemTokens(text string) string {
	return systemTokenRe.ReplaceAllString(text, "")
}

// StripDetails removes collapsible <details> blocks, which carry the
// reasoning shown alongside detection summaries.
func StripDetails(text string) string {
	return detailsRe.ReplaceAllString(text, "")
}

// CleanAssistantText prepares an assistant turn for replay as history.
func CleanAssistantText(text string) string {
	text = StripSystemTokens(text)
	text = StripDetails(text)
	return StripReasoning(text)
}

var detailsBodyRe = regexp.MustCompile(`(?is)<details[^>]*>\s*(?:<summary>.*?</summary>)?(.*?)</details>`)

// Display is an assistant turn split for presentation.
type Display struct {
	// Thoughts holds the reasoning trace followed by the bodies of any
	// <details> blocks, empty entries dropped.
	Thoughts []string
	Answer   string

	// Thinking is true while an unclosed trace is still the tail of the text.
	Thinking bool
}

// SplitForDisplay separates what a viewer shows collapsed from the answer.
func SplitForDisplay(text string) Display {
	text = StripSystemTokens(text)

	var details []string
	for _, m := range detailsBodyRe.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			details = append(details, body)
		}
	}
	text = detailsBodyRe.ReplaceAllString(text, "")

	r := ParseReasoning(text)
	d := Display{Answer: r.Answer, Thinking: r.HasThought && !r.Closed}
	if r.Thought != "" {
		d.Thoughts = append(d.Thoughts, r.Thought)
	}
	d.Thoughts = append(d.Thoughts, details...)
	return d
}
