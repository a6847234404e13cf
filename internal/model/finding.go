// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// BoxScale is the upper bound of the relative coordinate space.
const BoxScale = 1000

// Box is a bounding box as [ymin, xmin, ymax, xmax] in 0..BoxScale.
type Box [4]int

// YMin returns the top edge.
func (b Box) YMin() int { return b[0] }

// XMin returns the left edge.
func (b Box) XMin() int { return b[1] }

// YMax returns the bottom edge.
func (b Box) YMax() int { return b[2] }

// XMax returns the right edge.
func (b Box) XMax() int { return b[3] }

// UnmarshalJSON accepts exactly four numbers. Fractional values are rounded.
func (b *Box) UnmarshalJSON(data []byte) error {
	var vals []float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("box_2d: %w", err)
	}
	if len(vals) != 4 {
		return fmt.Errorf("box_2d: want 4 coordinates, got %d", len(vals))
	}
	for i, v := range vals {
		b[i] = int(math.Round(v))
	}
	return nil
}

// Finding is one detected region of interest.
type Finding struct {
	Label       string `json:"label"`
	Box         Box    `json:"box_2d"`
	Description string `json:"description,omitempty"`
}

// Valid reports whether the box has positive height and width.
func (f Finding) Valid() bool {
	return f.Box.YMax() > f.Box.YMin() && f.Box.XMax() > f.Box.XMin()
}

// FilterFindings returns the valid findings in input order. The result is
// never nil.
func FilterFindings(in []Finding) []Finding {
	out := make([]Finding, 0, len(in))
	for _, f := range in {
		if f.Valid() {
			out = append(out, f)
		}
	}
	return out
}

// LooseText is a string field that also accepts other JSON scalars. Models
// sometimes emit a number or boolean where text is expected; those keep their
// literal form and null becomes "".
type LooseText string

// UnmarshalJSON never fails on well-formed JSON.
func (t *LooseText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = LooseText(s)
		return nil
	}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	*t = LooseText(strings.TrimSpace(string(data)))
	return nil
}

type findingJSON struct {
	Label       LooseText       `json:"label"`
	Box         json.RawMessage `json:"box_2d"`
	Description LooseText       `json:"description"`
}

// DecodeFindings decodes a JSON array of findings. Elements with a missing or
// malformed box_2d and elements failing Valid are dropped; only a malformed
// array is an error. Label and description never cause a drop.
func DecodeFindings(data []byte) ([]Finding, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make([]Finding, 0, len(raw))
	for _, r := range raw {
		var fj findingJSON
		if json.Unmarshal(r, &fj) != nil || len(fj.Box) == 0 {
			continue
		}
		f := Finding{Label: string(fj.Label), Description: string(fj.Description)}
		if err := f.Box.UnmarshalJSON(fj.Box); err != nil {
			continue
		}
		if f.Valid() {
			out = append(out, f)
		}
	}
	return out, nil
}

// ScaleBox converts a box from a 0..from coordinate space into 0..BoxScale.
func ScaleBox(b [4]float64, from float64) Box {
	var out Box
	if from <= 0 {
		return out
	}
	for i, v := range b {
		out[i] = int(math.Round(v / from * BoxScale))
	}
	return out
}
