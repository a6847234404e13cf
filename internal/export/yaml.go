// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/medgemma-tui/internal/model"
)

// YAMLExporter exports sessions to YAML.
type YAMLExporter struct {
	options *Options
}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter(opts *Options) *YAMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &YAMLExporter{options: opts}
}

type yamlDocument struct {
	ID       string        `yaml:"id"`
	Title    string        `yaml:"title"`
	Modified string        `yaml:"modified"`
	Exported string        `yaml:"exported"`
	Messages []yamlMessage `yaml:"messages"`
}

type yamlMessage struct {
	Role         string        `yaml:"role"`
	Text         []string      `yaml:"text,omitempty"`
	Images       []string      `yaml:"images,omitempty"`
	RelatedImage string        `yaml:"related_image,omitempty"`
	Findings     []yamlFinding `yaml:"findings,omitempty"`
}

type yamlFinding struct {
	Label       string `yaml:"label"`
	Box         []int  `yaml:"box_2d,flow"`
	Description string `yaml:"description,omitempty"`
}

// Export converts a document to YAML.
func (e *YAMLExporter) Export(doc *Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}

	out := yamlDocument{
		ID:       doc.Session.ID,
		Title:    doc.Session.Title,
		Modified: doc.Session.Modified().Format(time.RFC3339),
		Exported: doc.Exported.Format(time.RFC3339),
	}
	for _, m := range projectMessages(doc.Messages, e.options) {
		ym := yamlMessage{Role: m.Role.String(), RelatedImage: m.RelatedImage}
		for _, b := range m.Content {
			switch b.Type {
			case model.BlockText:
				ym.Text = append(ym.Text, b.Text)
			case model.BlockImage:
				ym.Images = append(ym.Images, b.URL)
			}
		}
		for _, f := range m.RelatedFindings {
			ym.Findings = append(ym.Findings, yamlFinding{
				Label:       f.Label,
				Box:         f.Box[:],
				Description: f.Description,
			})
		}
		out.Messages = append(out.Messages, ym)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for YAML files.
func (e *YAMLExporter) FileExtension() string { return ".yaml" }

// MimeType returns the MIME type for YAML.
func (e *YAMLExporter) MimeType() string { return "application/yaml" }
