// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageBytes caps images loaded from disk. Larger files are rejected
// before encoding.
const MaxImageBytes = 20 << 20

var extMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// ImageDataURI reads an image file and returns it as a base64 data URI.
func ImageDataURI(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxImageBytes {
		return "", fmt.Errorf("image too large: %d bytes (max %d)", info.Size(), MaxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return EncodeDataURI(data, filepath.Ext(path))
}

// EncodeDataURI encodes raw image bytes. The MIME type is sniffed from the
// content and falls back to the extension hint.
func EncodeDataURI(data []byte, extHint string) (string, error) {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		fallback, ok := extMIME[strings.ToLower(extHint)]
		if !ok {
			return "", fmt.Errorf("not an image (detected %s)", mime)
		}
		mime = fallback
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// IsDataURI reports whether s is an inline data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// SummarizeImage returns a short placeholder for an image payload, suitable
// for logs: the first 30 characters and the total length.
func SummarizeImage(s string) string {
	head := s
	if len(head) > 30 {
		head = head[:30]
	}
	return fmt.Sprintf("[Image: %s... (%d chars)]", head, len(s))
}
