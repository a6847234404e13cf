// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")
	data := []byte(`{"ok":true}`)

	if err := AtomicWriteFile(path, data, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", content, data)
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "test.json")

	if err := AtomicWriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_OverwritesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	if err := AtomicWriteFile(path, []byte("first"), 0644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("second"), 0644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "second" {
		t.Errorf("got %q, want %q", content, "second")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 20, "hello"},
		{"exact", "12345678901234567890", 20, "12345678901234567890"},
		{"long", "123456789012345678901", 20, "12345678901234567890..."},
		{"cjk", "右下肺野可见局限性高密度影边缘模糊密度不均匀", 20, "右下肺野可见局限性高密度影边缘模糊密度不..."},
		{"zero", "abc", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateTitle(tt.in, tt.max); got != tt.want {
				t.Errorf("TruncateTitle(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	if got := TruncateWidth("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	got := TruncateWidth("影像分析影像分析", 7)
	if StringWidth(got) > 7 {
		t.Errorf("width %d exceeds 7: %q", StringWidth(got), got)
	}
	if !strings.HasSuffix(got, Ellipsis) {
		t.Errorf("expected ellipsis, got %q", got)
	}
}

func TestPadRight(t *testing.T) {
	got := PadRight("新对话", 10)
	if StringWidth(got) != 10 {
		t.Errorf("PadRight width = %d, want 10", StringWidth(got))
	}
}

func TestNormalizeInput(t *testing.T) {
	decomposed := "e\u0301"
	if got := NormalizeInput(decomposed); got != "\u00e9" {
		t.Errorf("NormalizeInput(%q) = %q, want composed form", decomposed, got)
	}
	if got := NormalizeInput("a\r\nb"); got != "a\nb" {
		t.Errorf("line endings not folded: %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("  title \nbody"); got != "title" {
		t.Errorf("FirstLine = %q", got)
	}
}

// =============================================================================
// IMAGE TESTS
// =============================================================================

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestImageDataURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, pngHeader, 0644); err != nil {
		t.Fatal(err)
	}

	uri, err := ImageDataURI(path)
	if err != nil {
		t.Fatalf("ImageDataURI failed: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("unexpected prefix: %q", uri[:30])
	}
	if !IsDataURI(uri) {
		t.Error("IsDataURI = false")
	}
}

func TestImageDataURI_RejectsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("just text"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ImageDataURI(path); err == nil {
		t.Error("expected error for non-image file")
	}
}

func TestSummarizeImage(t *testing.T) {
	payload := "data:image/png;base64," + strings.Repeat("A", 100)
	got := SummarizeImage(payload)
	want := "[Image: data:image/png;base64,AAAAAAAA... (122 chars)]"
	if got != want {
		t.Errorf("SummarizeImage = %q, want %q", got, want)
	}
}
