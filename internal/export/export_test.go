// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/storage"
)

const testImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk"

func testDocument() *Document {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	doc := NewDocument(
		storage.Session{ID: "1740825000000", Title: "Chest: follow-up\nsecond line", LastModified: ts.UnixMilli()},
		[]model.Message{
			{Role: model.RoleUser, Content: []model.ContentBlock{
				model.TextBlock("What do you see?"),
				model.ImageBlock(testImage),
			}},
			model.NewTextMessage(model.RoleAssistant, "<think>look at the lungs</think>Clear lung fields."),
			{
				Role:         model.RoleAssistant,
				Content:      []model.ContentBlock{model.TextBlock("Found 1 region")},
				RelatedImage: testImage,
				RelatedFindings: []model.Finding{
					{Label: "nodule | small", Box: model.Box{100, 200, 300, 400}, Description: "right upper lobe"},
				},
			},
		},
	)
	doc.Exported = ts
	return doc
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testDocument())
	require.NoError(t, err)
	md := string(out)

	t.Run("frontmatter survives hostile titles", func(t *testing.T) {
		require.True(t, strings.HasPrefix(md, "---\n"))
		end := strings.Index(md[4:], "---\n")
		require.Greater(t, end, 0)

		var fm frontmatter
		require.NoError(t, yaml.Unmarshal([]byte(md[4:4+end]), &fm))
		assert.Equal(t, "Chest: follow-up\nsecond line", fm.Title)
		assert.Equal(t, "1740825000000", fm.Session)
		assert.Equal(t, 3, fm.Messages)
	})

	t.Run("heading is escaped", func(t *testing.T) {
		assert.Contains(t, md, "# Chest: follow-up second line\n")
	})

	t.Run("roles and reasoning", func(t *testing.T) {
		assert.Contains(t, md, "## You\n")
		assert.Contains(t, md, "## MedGemma\n")
		assert.Contains(t, md, "> look at the lungs")
		assert.Contains(t, md, "Clear lung fields.")
		assert.NotContains(t, md, "<think>")
	})

	t.Run("images are summarized", func(t *testing.T) {
		assert.NotContains(t, md, testImage)
		assert.Contains(t, md, "[Image: data:image/png;base64,iVBORw0K")
	})

	t.Run("findings table", func(t *testing.T) {
		assert.Contains(t, md, "| 1 | nodule \\| small | 100, 200, 300, 400 | right upper lobe |")
	})
}

func TestMarkdownExportWithoutReasoning(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeReasoning = false
	opts.IncludeMetadata = false
	opts.IncludeImages = true

	doc := testDocument()
	doc.Messages = append(doc.Messages, model.NewTextMessage(model.RoleAssistant,
		"**影像分析结果** (共 0 处):\n\n<details><summary>点击查看 AI 思考过程\n\nthinking\n</details>"))

	out, err := NewMarkdownExporter(opts).Export(doc)
	require.NoError(t, err)
	md := string(out)

	assert.False(t, strings.HasPrefix(md, "---\n"))
	assert.NotContains(t, md, "look at the lungs")
	assert.NotContains(t, md, "<details>")
	assert.Contains(t, md, "Clear lung fields.")
	assert.Contains(t, md, testImage)
}

func TestJSONExport(t *testing.T) {
	doc := testDocument()
	out, err := NewJSONExporter(nil).Export(doc)
	require.NoError(t, err)

	var decoded struct {
		Session  storage.Session `json:"session"`
		Exported string          `json:"exported"`
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, doc.Session, decoded.Session)
	assert.Equal(t, "2025-03-01T10:30:00Z", decoded.Exported)
	require.Len(t, decoded.Messages, 3)

	img, ok := decoded.Messages[0].Image()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(img, "[Image: "))
	assert.Equal(t, doc.Messages[2].RelatedFindings, decoded.Messages[2].RelatedFindings)

	// The source document is untouched.
	orig, _ := doc.Messages[0].Image()
	assert.Equal(t, testImage, orig)
}

func TestJSONExportStripsReasoning(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeReasoning = false
	out, err := NewJSONExporter(opts).Export(testDocument())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "look at the lungs")
	assert.Contains(t, string(out), "Clear lung fields.")
}

func TestYAMLExport(t *testing.T) {
	out, err := NewYAMLExporter(nil).Export(testDocument())
	require.NoError(t, err)

	var decoded yamlDocument
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "1740825000000", decoded.ID)
	require.Len(t, decoded.Messages, 3)
	assert.Equal(t, "user", decoded.Messages[0].Role)
	assert.Equal(t, []string{"What do you see?"}, decoded.Messages[0].Text)
	require.Len(t, decoded.Messages[0].Images, 1)
	require.Len(t, decoded.Messages[2].Findings, 1)
	assert.Equal(t, []int{100, 200, 300, 400}, decoded.Messages[2].Findings[0].Box)
	assert.Contains(t, string(out), "box_2d: [100, 200, 300, 400]")
}

func TestExportEmptySession(t *testing.T) {
	doc := NewDocument(storage.Session{ID: "1"}, nil)
	for _, name := range Formats() {
		exp, err := ForFormat(name, nil)
		require.NoError(t, err)
		_, err = exp.Export(doc)
		assert.ErrorIs(t, err, ErrEmptySession, name)
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		name string
		ext  string
	}{
		{"md", ".md"},
		{"Markdown", ".md"},
		{"", ".md"},
		{"json", ".json"},
		{"yml", ".yaml"},
		{"YAML", ".yaml"},
	}
	for _, tt := range tests {
		exp, err := ForFormat(tt.name, nil)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.ext, exp.FileExtension(), tt.name)
		assert.NotEmpty(t, exp.MimeType())
	}

	_, err := ForFormat("html", nil)
	assert.ErrorContains(t, err, "unknown export format")
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	opts := DefaultOptions()
	opts.OutputDir = dir

	path, err := ExportToFile(testDocument(), NewJSONExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_Chest-_follow-up_second_line_20250301_103000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestExportToFileError(t *testing.T) {
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	_, err := ExportToFile(NewDocument(storage.Session{}, nil), NewMarkdownExporter(opts), opts)
	assert.ErrorIs(t, err, ErrEmptySession)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "untitled"},
		{"a/b\\c", "a-b-c"},
		{"  spaced   out  ", "spaced_out"},
		{"...", "untitled"},
		{"新对话", "新对话"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}
