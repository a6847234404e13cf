// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/request"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// renderer formats assistant output for the terminal. Markdown is rendered
// with glamour only when colors are enabled, so piped output stays plain.
type renderer struct {
	md            *glamour.TermRenderer
	showReasoning bool
}

func newRenderer(theme string, showReasoning bool) *renderer {
	r := &renderer{showReasoning: showReasoning}
	if !ColorsEnabled() {
		return r
	}

	style := theme
	if style == "" || style == "auto" {
		style = "light"
		if HasDarkBackground() {
			style = "dark"
		}
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
	)
	if err == nil {
		r.md = md
	}
	return r
}

// markdown renders content, returning it unchanged when rendering is off
// or fails.
func (r *renderer) markdown(content string) string {
	if r.md == nil {
		return content
	}
	out, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// assistant formats a finished assistant turn: the reasoning trace dimmed
// (when shown) followed by the rendered answer.
func (r *renderer) assistant(text string) string {
	d := request.SplitForDisplay(text)

	var sb strings.Builder
	if r.showReasoning {
		for _, t := range d.Thoughts {
			sb.WriteString(RenderConditional(DimStyle, "thinking: "+strings.ReplaceAll(t, "\n", "\n          ")))
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(r.markdown(d.Answer))
	return sb.String()
}

// findingsTable lays findings out in aligned columns.
func findingsTable(findings []model.Finding) string {
	if len(findings) == 0 {
		return RenderConditional(DimStyle, "no regions found")
	}
	labelWidth := len("label")
	for _, f := range findings {
		labelWidth = max(labelWidth, util.StringWidth(f.Label))
	}
	labelWidth = min(labelWidth, 30)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-3s %s  %-22s %s\n", "#", util.PadRight("label", labelWidth), "box (y0,x0,y1,x1)", "description")
	for i, f := range findings {
		box := fmt.Sprintf("%d,%d,%d,%d", f.Box.YMin(), f.Box.XMin(), f.Box.YMax(), f.Box.XMax())
		fmt.Fprintf(&sb, "%-3d %s  %-22s %s\n", i+1, util.PadRight(f.Label, labelWidth), box, f.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// printJSON writes v as indented JSON, highlighted on a color terminal.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if ColorsEnabled() {
		var buf bytes.Buffer
		if err := quick.Highlight(&buf, string(data), "json", "terminal256", "monokai"); err == nil {
			_, err = fmt.Fprintln(w, buf.String())
			return err
		}
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printTOML writes TOML text, highlighted on a color terminal.
func printTOML(w io.Writer, src string) error {
	if ColorsEnabled() {
		var buf bytes.Buffer
		if err := quick.Highlight(&buf, src, "toml", "terminal256", "monokai"); err == nil {
			_, err = fmt.Fprint(w, buf.String())
			return err
		}
	}
	_, err := fmt.Fprint(w, src)
	return err
}
