// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
)

const readBufferSize = 4096

// Reader yields the deltas of a response body in arrival order. It is not
// restartable: after io.EOF or an error every call returns the same result.
type Reader struct {
	r   io.Reader
	dec Decoder
	buf []byte

	queue []string
	ended bool
	err   error
}

// NewReader wraps r with dec.
func NewReader(r io.Reader, dec Decoder) *Reader {
	return &Reader{r: r, dec: dec, buf: make([]byte, readBufferSize)}
}

// Next returns the next delta. io.EOF marks the end of the stream (the
// terminal frame or the end of the body). ctx is checked before every read;
// a read that fails after ctx is done reports ctx.Err().
func (r *Reader) Next(ctx context.Context) (string, error) {
	for {
		if len(r.queue) > 0 {
			d := r.queue[0]
			r.queue = r.queue[1:]
			return d, nil
		}
		if r.err != nil {
			return "", r.err
		}
		if r.ended {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			r.err = err
			return "", err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			deltas, done := r.dec.Feed(r.buf[:n])
			r.queue = append(r.queue, deltas...)
			if done {
				r.ended = true
			}
		}
		if err != nil && !r.ended {
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
				r.ended = true
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			r.err = err
		}
	}
}

// Process calls fn for every delta until the stream ends. It returns nil on
// a clean end.
func (r *Reader) Process(ctx context.Context, fn func(delta string)) error {
	for {
		d, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(d)
	}
}

// Collect concatenates every delta of body.
func Collect(ctx context.Context, body io.Reader, f Framing) (string, error) {
	var sb strings.Builder
	err := NewReader(body, NewDecoder(f)).Process(ctx, func(d string) {
		sb.WriteString(d)
	})
	return sb.String(), err
}
