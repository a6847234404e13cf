// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"

	"github.com/jeranaias/medgemma-tui/internal/util"
)

// RedactBody returns an indented copy of a chat request body with every
// inline image replaced by a short summary. Both image styles are handled:
// {"type":"image","image":...} and {"type":"image_url","image_url":{"url":...}}.
func RedactBody(body []byte) ([]byte, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	if msgs, ok := doc["messages"].([]any); ok {
		for _, m := range msgs {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			items, ok := msg["content"].([]any)
			if !ok {
				continue
			}
			for i, it := range items {
				items[i] = redactItem(it)
			}
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func redactItem(it any) any {
	item, ok := it.(map[string]any)
	if !ok {
		return it
	}
	switch item["type"] {
	case "image":
		if s, ok := item["image"].(string); ok {
			return util.SummarizeImage(s)
		}
	case "image_url":
		if iu, ok := item["image_url"].(map[string]any); ok {
			if u, ok := iu["url"].(string); ok && util.IsDataURI(u) {
				iu["url"] = util.SummarizeImage(u)
			}
		}
	}
	return item
}
