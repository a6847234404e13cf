// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/request"
	"github.com/jeranaias/medgemma-tui/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports sessions in the stored message shape, so the
// messages array can be loaded back as a session record.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonDocument struct {
	Session  storage.Session `json:"session"`
	Exported string          `json:"exported"`
	Messages []model.Message `json:"messages"`
}

// Export converts a document to indented JSON.
func (e *JSONExporter) Export(doc *Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}

	out := jsonDocument{
		Session:  doc.Session,
		Exported: doc.Exported.Format(time.RFC3339),
		Messages: projectMessages(doc.Messages, e.options),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON files.
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string { return "application/json" }

// projectMessages applies the image and reasoning options to a copy of
// msgs. The input is never modified.
func projectMessages(msgs []model.Message, opts *Options) []model.Message {
	out := model.CloneMessages(msgs)
	for i := range out {
		m := &out[i]
		for j := range m.Content {
			b := &m.Content[j]
			switch {
			case b.IsImage():
				b.URL = imageRef(b.URL, opts)
			case b.IsText() && m.Role == model.RoleAssistant && !opts.IncludeReasoning:
				b.Text = request.CleanAssistantText(b.Text)
			}
		}
		if m.RelatedImage != "" {
			m.RelatedImage = imageRef(m.RelatedImage, opts)
		}
	}
	return out
}
