// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// panelView shows the image the view is about and its findings. Boxes are
// in the model's 0-1000 coordinate space.
func (m Model) panelView(height int) string {
	image, findings := m.deps.Manager.ActiveImage()
	inner := panelWidth - 4
	t := m.theme

	var lines []string
	lines = append(lines, t.PanelTitle.Render("Image"))
	lines = append(lines, t.Attachment.Render(wrap(util.SummarizeImage(image), inner)))
	if pending := m.deps.Manager.PendingImage(); pending != "" && pending == image {
		lines = append(lines, t.StatusNote.Render("attached to next message"))
	}
	lines = append(lines, "")

	switch {
	case findings == nil:
		lines = append(lines, t.StatusDesc.Render("no detection yet; /detect"))
	case len(findings) == 0:
		lines = append(lines, t.PanelTitle.Render("Findings"), t.StatusDesc.Render("no regions found"))
	default:
		lines = append(lines, t.PanelTitle.Render(fmt.Sprintf("Findings (%d)", len(findings))))
		for i, f := range findings {
			lines = append(lines, renderFinding(m, i, f, inner)...)
		}
	}

	return t.ImagePanel.Width(panelWidth - 2).Height(max(height-2, 3)).Render(strings.Join(lines, "\n"))
}

func renderFinding(m Model, i int, f model.Finding, width int) []string {
	label := runewidth.Truncate(fmt.Sprintf("%d. %s", i+1, f.Label), width, "…")
	box := fmt.Sprintf("   y %d-%d  x %d-%d", f.Box.YMin(), f.Box.YMax(), f.Box.XMin(), f.Box.XMax())
	out := []string{m.theme.FindingLabel.Render(label), m.theme.FindingBox.Render(box)}
	if f.Description != "" {
		out = append(out, wrap(f.Description, width))
	}
	return out
}

// wrap breaks s into lines no wider than width, by display width.
func wrap(s string, width int) string {
	var (
		lines []string
		line  strings.Builder
		w     int
	)
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if r == '\n' || w+rw > width {
			lines = append(lines, line.String())
			line.Reset()
			w = 0
			if r == '\n' {
				continue
			}
		}
		line.WriteRune(r)
		w += rw
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
