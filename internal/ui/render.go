// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/request"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// maxRenderCache bounds the markdown cache; it is dropped wholesale when full.
const maxRenderCache = 256

// renderer turns markdown into terminal text at the current width.
// Finished messages are cached by content.
type renderer struct {
	style string
	width int
	md    *glamour.TermRenderer
	cache map[string]string
}

func newRenderer(style string) *renderer {
	return &renderer{style: style, cache: make(map[string]string)}
}

// setWidth rebuilds the glamour renderer when the wrap width changes.
func (r *renderer) setWidth(w int) {
	w = max(w, 20)
	if w == r.width && r.md != nil {
		return
	}
	r.width = w
	r.cache = make(map[string]string)
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(w),
	)
	if err != nil {
		r.md = nil
		return
	}
	r.md = md
}

// markdown renders s, falling back to wrapped plain text.
func (r *renderer) markdown(s string) string {
	if s == "" {
		return ""
	}
	if out, ok := r.cache[s]; ok {
		return out
	}
	out := r.plain(s)
	if r.md != nil {
		if rendered, err := r.md.Render(s); err == nil {
			out = strings.Trim(rendered, "\n")
		}
	}
	if len(r.cache) >= maxRenderCache {
		r.cache = make(map[string]string)
	}
	r.cache[s] = out
	return out
}

// plain wraps s without markdown processing.
func (r *renderer) plain(s string) string {
	return lipgloss.NewStyle().Width(max(r.width, 20)).Render(s)
}

// =============================================================================
// CONVERSATION
// =============================================================================

func (m Model) renderConversation() string {
	msgs := m.conv.Messages()
	if len(msgs) == 0 {
		return m.renderEmpty()
	}

	var sb strings.Builder
	for i, msg := range msgs {
		live := m.activity == replying && i == len(msgs)-1 && msg.Role == model.RoleAssistant
		sb.WriteString(m.renderMessage(i, msg, live))
		sb.WriteString("\n\n")
	}
	if m.busy() {
		sb.WriteString(m.renderActivity())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) renderEmpty() string {
	lines := []string{
		m.theme.HeaderTitle.Render("MedGemma"),
		"",
		"Attach an image with /image <path>, then ask a question.",
		"Run /detect to mark regions of interest on the image.",
		"",
		m.theme.StatusDesc.Render("F1 shows all keys and commands."),
	}
	if m.busy() {
		lines = append(lines, "", m.renderActivity())
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderActivity() string {
	label := "thinking"
	if m.activity == detecting {
		label = "detecting regions"
	}
	elapsed := time.Since(m.started).Truncate(time.Second)
	return fmt.Sprintf("%s %s %s", m.spinner.View(), label, m.theme.StatusDesc.Render(elapsed.String()+"  esc to stop"))
}

func (m Model) roleStyle(r model.Role) lipgloss.Style {
	switch r {
	case model.RoleUser:
		return m.theme.UserRole
	case model.RoleAssistant:
		return m.theme.AssistantRole
	default:
		return m.theme.SystemRole
	}
}

// renderMessage draws one message. live marks the assistant reply that is
// still streaming; it is shown as plain text to keep redraws cheap.
func (m Model) renderMessage(i int, msg model.Message, live bool) string {
	var sb strings.Builder
	sb.WriteString(m.theme.MessageIndex.Render(fmt.Sprintf("%d ", i+1)))
	sb.WriteString(m.roleStyle(msg.Role).Render(msg.Role.DisplayName()))
	sb.WriteString("\n")

	if img, ok := msg.Image(); ok {
		sb.WriteString(m.theme.Attachment.Render(util.SummarizeImage(img)))
		sb.WriteString("\n")
	}

	if msg.Role != model.RoleAssistant {
		sb.WriteString(m.render.plain(msg.Text()))
		return sb.String()
	}

	d := request.SplitForDisplay(msg.Text())
	if thoughts := m.renderThoughts(d, live); thoughts != "" {
		sb.WriteString(thoughts)
		sb.WriteString("\n")
	}

	switch {
	case live:
		sb.WriteString(m.render.plain(d.Answer))
	case strings.HasSuffix(d.Answer, chat.StoppedMarker):
		sb.WriteString(m.render.markdown(strings.TrimSuffix(d.Answer, chat.StoppedMarker)))
		sb.WriteString("\n")
		sb.WriteString(m.theme.Stopped.Render(chat.StoppedMarker))
	default:
		sb.WriteString(m.render.markdown(d.Answer))
	}

	if msg.IsDetectionResult() {
		sb.WriteString("\n")
		sb.WriteString(m.theme.Attachment.Render(
			fmt.Sprintf("%d regions marked; /view %d shows them on the image", len(msg.RelatedFindings), i+1)))
	}
	return sb.String()
}

// renderThoughts shows the reasoning expanded, or a one-line placeholder.
func (m Model) renderThoughts(d request.Display, live bool) string {
	if len(d.Thoughts) == 0 {
		return ""
	}
	if !m.showThoughts {
		lines := 0
		for _, t := range d.Thoughts {
			lines += strings.Count(t, "\n") + 1
		}
		label := fmt.Sprintf("> reasoning, %d lines (ctrl+r)", lines)
		if live && d.Thinking {
			label = "> thinking... (ctrl+r)"
		}
		return m.theme.Collapsed.Render(label)
	}
	body := strings.Join(d.Thoughts, "\n\n")
	return m.theme.Reasoning.Width(max(m.render.width-2, 10)).Render(body)
}
