// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/request"
	"github.com/jeranaias/medgemma-tui/internal/stream"
)

// ErrBusy is returned when an exchange is already in flight.
var ErrBusy = errors.New("a response is already in progress")

// StoppedMarker is appended to a reply the user stopped.
const StoppedMarker = "[stopped]"

// Streamer opens a response stream. *client.Client implements it.
type Streamer interface {
	OpenStream(ctx context.Context, url string, payload interface{}) (io.ReadCloser, error)
}

// Restore is the user input to put back after a failed send.
type Restore struct {
	Text  string
	Image string
}

// Outcome describes how an exchange ended.
type Outcome struct {
	// State is Completed, Aborted or Failed. A no-op regenerate reports Idle.
	State State

	// Text is the final assistant text, empty when no reply was kept.
	Text string

	// Err is the failure, set only when State is Failed.
	Err error

	// Restore is set when a failed Send was rolled back.
	Restore *Restore

	Duration time.Duration
}

// Options configure a Reconciler.
type Options struct {
	Flow Flow

	// Settings returns the settings to use for the next request.
	Settings func() config.Settings

	// OnState is called on every transition, including the return to Idle.
	OnState func(State)

	// TrimHistory fits the history to the contextWindow setting.
	TrimHistory bool

	// OnDelta is called after each delta is applied. UIs use it to request
	// a redraw; it must not block.
	OnDelta func(delta string)

	Logger *zap.Logger
}

// Reconciler drives one exchange at a time against a conversation.
type Reconciler struct {
	conv   *model.Conversation
	client Streamer
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	state  State
	cancel cancelManager
}

// NewReconciler creates a Reconciler for conv.
func NewReconciler(conv *model.Conversation, c Streamer, opts Options) *Reconciler {
	if opts.Settings == nil {
		def := config.DefaultSettings("")
		opts.Settings = func() config.Settings { return def }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{conv: conv, client: c, opts: opts, logger: logger}
}

// State returns the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Busy reports whether an exchange is in flight.
func (r *Reconciler) Busy() bool {
	return r.State().Busy()
}

// SetFlow switches the flow used by the next exchange.
func (r *Reconciler) SetFlow(f Flow) {
	r.mu.Lock()
	r.opts.Flow = f
	r.mu.Unlock()
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

// begin claims the Idle -> Sending transition. The exchange context is
// registered before Sending is announced so Abort works from that point on.
func (r *Reconciler) begin(parent context.Context) (Flow, context.Context, error) {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return 0, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel.set(cancel)
	r.state = StateSending
	flow := r.opts.Flow
	r.mu.Unlock()
	if r.opts.OnState != nil {
		r.opts.OnState(StateSending)
	}
	return flow, ctx, nil
}

// idle releases the exchange context and returns to Idle. The release
// happens first so an exchange started from the Idle callback keeps its own.
func (r *Reconciler) idle() {
	r.cancel.clear()
	r.setState(StateIdle)
}

// finish records the terminal state and returns to Idle.
func (r *Reconciler) finish(out Outcome) Outcome {
	r.setState(out.State)
	r.idle()
	return out
}

// Send appends a user turn and streams the reply. It blocks until the
// exchange ends; run it on its own goroutine and use Abort to stop it.
//
// An empty send returns a *model.ValidationError without touching the
// conversation or the network. A send while busy returns ErrBusy.
func (r *Reconciler) Send(ctx context.Context, text, image string) (Outcome, error) {
	if strings.TrimSpace(text) == "" && image == "" {
		return Outcome{State: StateIdle}, &model.ValidationError{Field: "message", Message: "text or image required"}
	}
	flow, ctx, err := r.begin(ctx)
	if err != nil {
		return Outcome{State: r.State()}, err
	}

	userMsg, err := r.conv.AppendUser(text, image)
	if err != nil {
		r.idle()
		return Outcome{State: StateIdle}, err
	}
	return r.run(ctx, flow, &userMsg, &Restore{Text: text, Image: image}), nil
}

// Regenerate drops the latest assistant reply and asks again with the
// remaining history. With no history it does nothing.
func (r *Reconciler) Regenerate(ctx context.Context) (Outcome, error) {
	flow, ctx, err := r.begin(ctx)
	if err != nil {
		return Outcome{State: r.State()}, err
	}

	if last, ok := r.conv.Last(); ok && last.Role == model.RoleAssistant {
		r.conv.RemoveLast()
	}
	if r.conv.Len() == 0 {
		r.idle()
		return Outcome{State: StateIdle}, nil
	}
	return r.run(ctx, flow, nil, nil), nil
}

// Abort stops the in-flight exchange. It reports false when idle.
func (r *Reconciler) Abort() bool {
	return r.cancel.abort()
}

func (r *Reconciler) run(ctx context.Context, flow Flow, userMsg *model.Message, restore *Restore) Outcome {
	start := time.Now()

	settings := r.opts.Settings()
	ov := request.Overrides{TrimHistory: r.opts.TrimHistory}
	if flow == FlowAnalysis {
		ov.ImageStyle = request.InlineImageStyle
		ov.WithConfig = true
	}
	payload := request.Build(r.conv.Messages(), settings, ov)

	ex := &exchange{r: r, ctx: ctx, userMsg: userMsg, restore: restore, start: start}
	if flow == FlowChat {
		ex.h = r.conv.AppendAssistantPlaceholder()
	}

	r.logger.Debug("exchange started",
		zap.String("flow", flow.String()),
		zap.String("session", r.conv.SessionID()),
		zap.Int("messages", len(payload.Messages)))

	// Stopped while still Sending.
	if err := ctx.Err(); err != nil {
		return ex.end(err)
	}

	body, err := r.client.OpenStream(ctx, settings.APIEndpoint, payload)
	if err != nil {
		return ex.end(err)
	}
	defer body.Close()

	reader := stream.NewReader(body, stream.NewDecoder(flow.Framing()))
	for {
		delta, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return ex.end(nil)
		}
		if err != nil {
			return ex.end(client.Classify(ctx, err))
		}
		ex.apply(delta)
	}
}

// exchange is the per-run bookkeeping.
type exchange struct {
	r       *Reconciler
	ctx     context.Context
	h       *model.Handle
	userMsg *model.Message
	restore *Restore
	start   time.Time
	deltas  int
}

func (ex *exchange) apply(delta string) {
	if ex.h == nil {
		ex.h = ex.r.conv.AppendAssistantPlaceholder()
	}
	if ex.deltas == 0 {
		ex.r.setState(StateStreaming)
	}
	ex.deltas++
	if !ex.h.AppendText(delta) {
		// The reply was deleted out from under us; keep draining.
		return
	}
	if ex.r.opts.OnDelta != nil {
		ex.r.opts.OnDelta(delta)
	}
}

func (ex *exchange) end(err error) Outcome {
	r := ex.r
	out := Outcome{Duration: time.Since(ex.start)}

	switch {
	case err == nil:
		if ex.h == nil {
			ex.h = r.conv.AppendAssistantPlaceholder()
		}
		ex.h.Finalize()
		out.State = StateCompleted
		out.Text = ex.h.Text()
		r.logger.Debug("exchange completed", zap.Int("deltas", ex.deltas), zap.Duration("duration", out.Duration))

	case r.cancel.wasAborted() || client.IsCanceled(err):
		if ex.h == nil {
			ex.h = r.conv.AppendAssistantPlaceholder()
		}
		marker := StoppedMarker
		if ex.h.Text() != "" {
			marker = " " + marker
		}
		ex.h.AppendText(marker)
		ex.h.Finalize()
		out.State = StateAborted
		out.Text = ex.h.Text()
		r.logger.Info("exchange stopped", zap.Int("deltas", ex.deltas))

	default:
		out.State = StateFailed
		out.Err = err
		r.logger.Warn("exchange failed", zap.Error(err), zap.Int("deltas", ex.deltas))

		if ex.h != nil && strings.TrimSpace(ex.h.Text()) != "" {
			ex.h.AppendText("\n\n[error: " + err.Error() + "]")
			ex.h.Finalize()
			out.Text = ex.h.Text()
			break
		}
		if ex.h != nil {
			ex.h.Remove()
		}
		if ex.userMsg != nil {
			if last, ok := r.conv.Last(); ok && reflect.DeepEqual(last, *ex.userMsg) {
				r.conv.RemoveLast()
				out.Restore = ex.restore
			}
		}
	}
	return r.finish(out)
}
