// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/client"
	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/request"
)

// Completer runs one non-streaming request. *client.Client implements it.
type Completer interface {
	Complete(ctx context.Context, url string, payload interface{}) (string, error)
}

// NativeDetector calls the backend's own detection endpoint.
type NativeDetector interface {
	DetectNative(ctx context.Context, url string, payload interface{}) ([]model.Finding, string, error)
}

// ParseError is returned when the detection reply is not a findings list.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse detection result: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

// StripFence returns the body of the first fenced block in s, or s trimmed
// when there is none.
func StripFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// ParseFindings decodes a model reply into valid findings. Reasoning traces
// and a surrounding markdown fence are removed first. Entries with a bad box
// are dropped; a reply that is not a JSON array is a *ParseError.
func ParseFindings(reply string) ([]model.Finding, error) {
	body := request.StripReasoning(request.StripSystemTokens(reply))
	body = StripFence(body)
	findings, err := model.DecodeFindings([]byte(body))
	if err != nil {
		return nil, &ParseError{Raw: reply, Err: err}
	}
	return findings, nil
}

// DetectionSummary is the assistant text recorded for n findings.
func DetectionSummary(n int) string {
	return fmt.Sprintf("已在当前图像中检测到 %d 个关注区域。请点击图像查看详细标注。", n)
}

// NativeSummary lists the findings and folds the model's reasoning into a
// collapsible block.
func NativeSummary(findings []model.Finding, thought string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**影像分析结果** (共 %d 处):\n", len(findings))
	for i, f := range findings {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s: %s", i+1, f.Label, f.Description)
	}
	if strings.TrimSpace(thought) == "" {
		thought = "无思考过程"
	}
	fmt.Fprintf(&sb, "\n\n<details><summary>点击查看 AI 思考过程</summary>\n\n%s\n</details>", thought)
	return sb.String()
}

// DetectorOptions configure a Detector.
type DetectorOptions struct {
	Settings func() config.Settings
	Logger   *zap.Logger
}

// Detector runs region detection on an image and records the result in the
// conversation. Failures leave the conversation untouched.
type Detector struct {
	conv     *model.Conversation
	settings func() config.Settings
	logger   *zap.Logger

	mu   sync.Mutex
	busy bool
}

// NewDetector creates a Detector for conv.
func NewDetector(conv *model.Conversation, opts DetectorOptions) *Detector {
	if opts.Settings == nil {
		def := config.DefaultSettings("")
		opts.Settings = func() config.Settings { return def }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{conv: conv, settings: opts.Settings, logger: logger}
}

func (d *Detector) acquire(image string) error {
	if image == "" {
		return &model.ValidationError{Field: "image", Message: "an image is required for detection"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return ErrBusy
	}
	d.busy = true
	return nil
}

func (d *Detector) release() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

// Detect asks the chat endpoint for findings on image and appends a summary
// message linked to the image and its findings.
func (d *Detector) Detect(ctx context.Context, c Completer, image string) ([]model.Finding, error) {
	if err := d.acquire(image); err != nil {
		return nil, err
	}
	defer d.release()

	settings := d.settings()
	reply, err := c.Complete(ctx, settings.APIEndpoint, request.BuildDetection(settings, image))
	if err != nil {
		d.logger.Warn("detection request failed", zap.Error(err))
		return nil, err
	}
	findings, err := ParseFindings(reply)
	if err != nil {
		d.logger.Warn("detection reply unparseable", zap.Error(err), zap.Int("reply_len", len(reply)))
		return nil, err
	}
	d.record(DetectionSummary(len(findings)), image, findings)
	return findings, nil
}

// DetectNative uses the backend's /detect endpoint instead.
func (d *Detector) DetectNative(ctx context.Context, c NativeDetector, image string) ([]model.Finding, error) {
	if err := d.acquire(image); err != nil {
		return nil, err
	}
	defer d.release()

	settings := d.settings()
	findings, thought, err := c.DetectNative(ctx, settings.DetectURL(), request.BuildNativeDetection(settings, image))
	if err != nil {
		d.logger.Warn("native detection failed", zap.Error(err))
		var ce *client.Error
		if errors.As(err, &ce) && ce.Type == client.ErrTypeDecode {
			return nil, &ParseError{Raw: ce.Raw, Err: err}
		}
		return nil, err
	}
	d.record(NativeSummary(findings, thought), image, findings)
	return findings, nil
}

func (d *Detector) record(text, image string, findings []model.Finding) {
	msg := model.NewTextMessage(model.RoleAssistant, text)
	msg.RelatedImage = image
	msg.RelatedFindings = findings
	if msg.RelatedFindings == nil {
		msg.RelatedFindings = []model.Finding{}
	}
	if err := d.conv.AppendMessage(msg); err != nil {
		d.logger.Warn("record detection", zap.Error(err))
	}
	d.logger.Info("detection recorded", zap.Int("findings", len(findings)))
}
