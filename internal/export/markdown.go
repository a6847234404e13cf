// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/request"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

type frontmatter struct {
	Title    string `yaml:"title"`
	Session  string `yaml:"session"`
	Modified string `yaml:"modified"`
	Exported string `yaml:"exported"`
	Messages int    `yaml:"messages"`
}

// Export converts a document to Markdown.
func (e *MarkdownExporter) Export(doc *Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		// Marshalling through yaml keeps titles with colons or newlines
		// from breaking the header.
		head, err := yaml.Marshal(frontmatter{
			Title:    doc.Session.Title,
			Session:  doc.Session.ID,
			Modified: doc.Session.Modified().Format(time.RFC3339),
			Exported: doc.Exported.Format(time.RFC3339),
			Messages: len(doc.Messages),
		})
		if err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(head)
		sb.WriteString("---\n\n")
	}

	title := doc.Session.Title
	if title == "" {
		title = "Untitled session"
	}
	sb.WriteString("# ")
	sb.WriteString(escapeMarkdown(title))
	sb.WriteString("\n\n")

	for i, msg := range doc.Messages {
		if i > 0 {
			sb.WriteString("---\n\n")
		}
		e.writeMessage(&sb, msg)
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown files.
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string { return "text/markdown" }

func (e *MarkdownExporter) writeMessage(sb *strings.Builder, msg model.Message) {
	fmt.Fprintf(sb, "## %s\n\n", msg.Role.DisplayName())

	for _, block := range msg.Content {
		switch block.Type {
		case model.BlockText:
			e.writeText(sb, msg.Role, block.Text)
		case model.BlockImage:
			fmt.Fprintf(sb, "![image](%s)\n\n", imageRef(block.URL, e.options))
		}
	}

	if len(msg.RelatedFindings) > 0 {
		sb.WriteString(formatFindings(msg.RelatedFindings))
		sb.WriteString("\n")
	}
}

func (e *MarkdownExporter) writeText(sb *strings.Builder, role model.Role, text string) {
	if role != model.RoleAssistant {
		sb.WriteString(strings.TrimSpace(text))
		sb.WriteString("\n\n")
		return
	}

	text = request.StripSystemTokens(text)
	if !e.options.IncludeReasoning {
		text = request.StripDetails(text)
	}
	r := request.ParseReasoning(text)
	if r.HasThought && e.options.IncludeReasoning && strings.TrimSpace(r.Thought) != "" {
		sb.WriteString("<details><summary>Reasoning</summary>\n\n")
		for _, line := range strings.Split(strings.TrimSpace(r.Thought), "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n</details>\n\n")
	}

	if answer := strings.TrimSpace(r.Answer); answer != "" {
		sb.WriteString(answer)
		sb.WriteString("\n\n")
	}
}

// formatFindings renders findings as a table. Boxes are
// [ymin, xmin, ymax, xmax] on the 0-1000 grid.
func formatFindings(findings []model.Finding) string {
	var sb strings.Builder
	sb.WriteString("| # | Label | Box (ymin, xmin, ymax, xmax) | Description |\n")
	sb.WriteString("|---|-------|------------------------------|-------------|\n")
	for i, f := range findings {
		fmt.Fprintf(&sb, "| %d | %s | %d, %d, %d, %d | %s |\n",
			i+1, escapeCell(f.Label),
			f.Box.YMin(), f.Box.XMin(), f.Box.YMax(), f.Box.XMax(),
			escapeCell(f.Description))
	}
	return sb.String()
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return strings.ReplaceAll(s, "\n", " ")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}
