// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func frame(content string) string {
	return `data: {"choices":[{"delta":{"content":` + quote(content) + `}}]}` + "\n\n"
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

const doneFrame = "data: [DONE]\n\n"

// decodeChunks feeds chunks into a fresh decoder and returns all deltas.
func decodeChunks(f Framing, chunks [][]byte) ([]string, bool) {
	dec := NewDecoder(f)
	var out []string
	done := false
	for _, c := range chunks {
		deltas, d := dec.Feed(c)
		out = append(out, deltas...)
		done = done || d
	}
	if !done {
		out = append(out, dec.Flush()...)
	}
	return out, done
}

// splitAt cuts data at the given sorted offsets.
func splitAt(data []byte, cuts []int) [][]byte {
	var out [][]byte
	prev := 0
	for _, c := range cuts {
		out = append(out, data[prev:c])
		prev = c
	}
	return append(out, data[prev:])
}

// =============================================================================
// EVENT DECODER TESTS
// =============================================================================

func TestEventDecoder_Basic(t *testing.T) {
	body := frame("Hi") + frame(" there") + doneFrame

	deltas, done := decodeChunks(FramingEvent, [][]byte{[]byte(body)})
	assert.True(t, done)
	assert.Equal(t, []string{"Hi", " there"}, deltas)
}

func TestEventDecoder_ChunkBoundaryInvariance(t *testing.T) {
	body := []byte(frame("肺野") + ": comment\n" + frame("清晰，") + frame("no \"acute\" findings") + frame("😀") + doneFrame)
	want, _ := decodeChunks(FramingEvent, [][]byte{body})
	require.Equal(t, []string{"肺野", "清晰，", `no "acute" findings`, "😀"}, want)

	// Every single split point, including inside multi-byte characters.
	for i := 0; i <= len(body); i++ {
		got, done := decodeChunks(FramingEvent, splitAt(body, []int{i}))
		require.True(t, done, "split at %d", i)
		require.Equal(t, want, got, "split at %d", i)
	}

	// Random multi-way splits.
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		var cuts []int
		for p := 0; p < len(body); p += 1 + rng.Intn(9) {
			cuts = append(cuts, p)
		}
		got, _ := decodeChunks(FramingEvent, splitAt(body, cuts))
		require.Equal(t, want, got, "trial %d cuts %v", trial, cuts)
	}

	// One byte at a time.
	var single [][]byte
	for i := range body {
		single = append(single, body[i:i+1])
	}
	got, _ := decodeChunks(FramingEvent, single)
	assert.Equal(t, want, got)
}

func TestEventDecoder_DoneTerminates(t *testing.T) {
	dec := &EventDecoder{}
	deltas, done := dec.Feed([]byte(frame("a") + doneFrame + frame("after")))
	assert.True(t, done)
	assert.Equal(t, []string{"a"}, deltas)

	deltas, done = dec.Feed([]byte(frame("later")))
	assert.True(t, done)
	assert.Empty(t, deltas)
	assert.Empty(t, dec.Flush())
}

func TestEventDecoder_DoneAlone(t *testing.T) {
	deltas, done := decodeChunks(FramingEvent, [][]byte{[]byte(doneFrame)})
	assert.True(t, done)
	assert.Empty(t, deltas)
}

func TestEventDecoder_MalformedLineSkipped(t *testing.T) {
	var skipped []*DecodeError
	dec := &EventDecoder{OnSkip: func(e *DecodeError) { skipped = append(skipped, e) }}

	body := frame("one") + "data: {\"choices\":[{\"delta\":\n" + "data: not json\n" + frame("two") + doneFrame
	deltas, done := dec.Feed([]byte(body))
	assert.True(t, done)
	assert.Equal(t, []string{"one", "two"}, deltas)
	assert.Equal(t, 2, dec.Skipped())
	require.Len(t, skipped, 2)
	assert.Contains(t, skipped[1].Error(), "not json")
}

func TestEventDecoder_IgnoresNonDataAndEmpty(t *testing.T) {
	body := "event: message\nid: 3\n\n" +
		`data: {"choices":[]}` + "\n" +
		`data: {"choices":[{"delta":{}}]}` + "\n" +
		`data:{"choices":[{"delta":{"content":"x"}}]}` + "\r\n" +
		doneFrame
	deltas, done := decodeChunks(FramingEvent, [][]byte{[]byte(body)})
	assert.True(t, done)
	assert.Equal(t, []string{"x"}, deltas)
}

func TestEventDecoder_FlushUnterminatedLine(t *testing.T) {
	dec := &EventDecoder{}
	deltas, done := dec.Feed([]byte(`data: {"choices":[{"delta":{"content":"tail"}}]}`))
	assert.False(t, done)
	assert.Empty(t, deltas)
	assert.Equal(t, []string{"tail"}, dec.Flush())
	assert.Empty(t, dec.Flush())
}

// =============================================================================
// RAW DECODER TESTS
// =============================================================================

func TestRawDecoder_SplitUTF8(t *testing.T) {
	text := "影像：右下肺野高密度影 ✓"
	body := []byte(text)

	for i := 0; i <= len(body); i++ {
		dec := &RawDecoder{}
		var sb strings.Builder
		for _, c := range splitAt(body, []int{i}) {
			deltas, done := dec.Feed(c)
			assert.False(t, done)
			for _, d := range deltas {
				assert.True(t, isValidUTF8(d), "split %d produced invalid delta %q", i, d)
				sb.WriteString(d)
			}
		}
		for _, d := range dec.Flush() {
			sb.WriteString(d)
		}
		require.Equal(t, text, sb.String(), "split at %d", i)
	}
}

func TestRawDecoder_LiteralText(t *testing.T) {
	deltas, done := decodeChunks(FramingRaw, [][]byte{[]byte("data: [DONE]\n")})
	assert.False(t, done)
	assert.Equal(t, []string{"data: [DONE]\n"}, deltas)
}

func isValidUTF8(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}

// =============================================================================
// READER TESTS
// =============================================================================

func TestReader_YieldsInOrderThenEOF(t *testing.T) {
	body := frame("Hi") + frame(" there") + doneFrame
	r := NewReader(iotest.OneByteReader(strings.NewReader(body)), NewDecoder(FramingEvent))
	ctx := context.Background()

	var got []string
	for {
		d, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, d)
	}
	assert.Equal(t, []string{"Hi", " there"}, got)

	// Not restartable.
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_EOFWithoutDone(t *testing.T) {
	text, err := Collect(context.Background(), strings.NewReader(frame("partial")), FramingEvent)
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
}

func TestReader_RawCollect(t *testing.T) {
	text, err := Collect(context.Background(), iotest.HalfReader(strings.NewReader("无明显异常。")), FramingRaw)
	require.NoError(t, err)
	assert.Equal(t, "无明显异常。", text)
}

func TestReader_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	r := NewReader(pr, NewDecoder(FramingEvent))

	go func() {
		_, _ = pw.Write([]byte(frame("Par")))
	}()

	d, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Par", d)

	cancel()
	pw.CloseWithError(errors.New("connection reset"))

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	r := NewReader(io.MultiReader(strings.NewReader(frame("a")), iotest.ErrReader(boom)), NewDecoder(FramingEvent))

	var got []string
	err := r.Process(context.Background(), func(d string) { got = append(got, d) })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, got, "deltas before the error are kept")
}

func TestFraming_String(t *testing.T) {
	assert.Equal(t, "event", FramingEvent.String())
	assert.Equal(t, "raw", FramingRaw.String())
}
