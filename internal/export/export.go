// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/storage"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// ErrEmptySession is returned when there is nothing to export.
var ErrEmptySession = errors.New("session has no messages")

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the unit of export: one session and its history.
type Document struct {
	Session  storage.Session
	Messages []model.Message
	Exported time.Time
}

// NewDocument snapshots a session for export.
func NewDocument(s storage.Session, msgs []model.Message) *Document {
	return &Document{
		Session:  s,
		Messages: model.CloneMessages(msgs),
		Exported: time.Now(),
	}
}

func (d *Document) validate() error {
	if d == nil {
		return errors.New("nil document")
	}
	if len(d.Messages) == 0 {
		return ErrEmptySession
	}
	return nil
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a document to the target format and returns the content.
	Export(doc *Document) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where ExportToFile writes. Default: current directory.
	OutputDir string

	// IncludeReasoning keeps the model's thinking trace. When false only
	// the final answer of each assistant turn is written.
	IncludeReasoning bool

	// IncludeImages embeds full data URIs. When false images are replaced
	// by a short placeholder.
	IncludeImages bool

	// IncludeMetadata writes the frontmatter header (Markdown only).
	IncludeMetadata bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:        ".",
		IncludeReasoning: true,
		IncludeImages:    false,
		IncludeMetadata:  true,
	}
}

// Formats lists the names accepted by ForFormat.
func Formats() []string {
	return []string{"md", "json", "yaml"}
}

// ForFormat returns the exporter for a format name.
func ForFormat(name string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "md", "markdown", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "yaml", "yml":
		return NewYAMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want one of %s)", name, strings.Join(Formats(), ", "))
	}
}

// ExportToFile exports a document to a file using the specified exporter.
// Returns the output file path or an error.
func ExportToFile(doc *Document, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s%s",
		sanitizeFilename(doc.Session.Title),
		doc.Exported.Format("20060102_150405"),
		exporter.FileExtension(),
	)
	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename makes a title safe for use in a file name.
func sanitizeFilename(name string) string {
	if name == "" {
		return "untitled"
	}

	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
		"\"", "-", "<", "-", ">", "-", "|", "-", "\n", " ", "\r", " ", "\t", " ",
	)
	name = replacer.Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = strings.Trim(name, "._-")

	name = util.TruncateTitle(name, 50)
	name = strings.TrimSuffix(name, util.Ellipsis)
	if name == "" {
		return "untitled"
	}
	return name
}

// imageRef renders an image payload according to opts.
func imageRef(url string, opts *Options) string {
	if opts.IncludeImages || !util.IsDataURI(url) {
		return url
	}
	return util.SummarizeImage(url)
}
