// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNetwork
	ErrTypeTimeout
	ErrTypeHTTP
	ErrTypeDecode
	ErrTypeCanceled
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeNetwork:
		return "network"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeHTTP:
		return "http"
	case ErrTypeDecode:
		return "decode"
	case ErrTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int    // set for ErrTypeHTTP
	Raw        string // unparsed backend output, set for some ErrTypeDecode
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by type, so errors.Is(err, ErrCanceled) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Type == e.Type
}

// Sentinels for errors.Is. They carry only a type.
var (
	ErrNetwork  = &Error{Type: ErrTypeNetwork}
	ErrTimeout  = &Error{Type: ErrTypeTimeout}
	ErrHTTP     = &Error{Type: ErrTypeHTTP}
	ErrDecode   = &Error{Type: ErrTypeDecode}
	ErrCanceled = &Error{Type: ErrTypeCanceled}
)

func typeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrTypeUnknown
}

// IsNetwork reports whether the backend could not be reached.
func IsNetwork(err error) bool { return typeOf(err) == ErrTypeNetwork }

// IsTimeout reports whether connecting or a caller deadline timed out.
func IsTimeout(err error) bool { return typeOf(err) == ErrTypeTimeout }

// IsCanceled reports whether the caller's context ended the request. A bare
// context.Canceled counts too.
func IsCanceled(err error) bool {
	return typeOf(err) == ErrTypeCanceled || errors.Is(err, context.Canceled)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds client options.
type Config struct {
	// ConnectTimeout bounds dialing (default: 30s). Nothing bounds the wait
	// for a response; callers that want a limit pass a context deadline.
	ConnectTimeout time.Duration

	// MaxErrorBody caps how much of a failed response is read into the
	// error message (default: 4KB).
	MaxErrorBody int64

	// MaxResponseBody caps non-streaming responses (default: 10MB).
	MaxResponseBody int64

	Logger *zap.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  30 * time.Second,
		MaxErrorBody:    4 << 10,
		MaxResponseBody: 10 << 20,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the inference API. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client. Zero fields in cfg take defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxErrorBody <= 0 {
		cfg.MaxErrorBody = def.MaxErrorBody
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = def.MaxResponseBody
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// No overall Timeout: it would cut off long streams, and a
	// non-streaming detection writes no headers until generation ends.
	// Deadlines apply to connection setup only.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// NewWithHTTPClient uses hc as-is. Tests use it with httptest servers.
func NewWithHTTPClient(hc *http.Client, cfg Config) *Client {
	c := New(cfg)
	c.httpClient = hc
	return c
}

// =============================================================================
// REQUESTS
// =============================================================================

// OpenStream POSTs payload as JSON and returns the response body for the
// caller to decode and close. A non-2xx status is an ErrTypeHTTP error whose
// message includes the start of the response body.
func (c *Client) OpenStream(ctx context.Context, url string, payload interface{}) (io.ReadCloser, error) {
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Complete sends a non-streaming chat request and returns
// choices[0].message.content.
func (c *Client) Complete(ctx context.Context, url string, payload interface{}) (string, error) {
	var out struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, url, payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return "", &Error{Type: ErrTypeDecode, Message: "response has no choices[0].message.content"}
	}
	return *out.Choices[0].Message.Content, nil
}

// NativeDetection is the backend's /detect response. Boxes use a 0-100 scale.
type NativeDetection struct {
	Status   string          `json:"status"`
	Findings json.RawMessage `json:"findings"`
	Thought  string          `json:"thought"`
}

// NativeFinding is one finding as /detect reports it.
type NativeFinding struct {
	Label       model.LooseText `json:"label"`
	Box         [4]float64      `json:"box_2d"`
	Description model.LooseText `json:"description"`
}

// DetectNative calls the backend's /detect endpoint and converts its
// findings to the 0-1000 scale. Invalid findings are dropped.
func (c *Client) DetectNative(ctx context.Context, url string, payload interface{}) ([]model.Finding, string, error) {
	var out NativeDetection
	if err := c.postJSON(ctx, url, payload, &out); err != nil {
		return nil, "", err
	}
	if out.Status != "success" {
		var raw struct {
			Raw string `json:"raw"`
		}
		_ = json.Unmarshal(out.Findings, &raw)
		msg := "detection failed"
		if raw.Raw != "" {
			msg += ": " + raw.Raw
		} else if out.Status != "" {
			msg += ": status " + out.Status
		}
		return nil, out.Thought, &Error{Type: ErrTypeDecode, Message: msg, Raw: raw.Raw}
	}

	var native []NativeFinding
	if err := json.Unmarshal(out.Findings, &native); err != nil {
		return nil, out.Thought, &Error{Type: ErrTypeDecode, Message: "findings is not a list", Raw: string(out.Findings), Cause: err}
	}
	findings := make([]model.Finding, 0, len(native))
	for _, f := range native {
		findings = append(findings, model.Finding{
			Label:       string(f.Label),
			Box:         model.ScaleBox(f.Box, 100),
			Description: string(f.Description),
		})
	}
	return model.FilterFindings(findings), out.Thought, nil
}

// Status is the backend health report.
type Status struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Status fetches the health endpoint.
func (c *Client) Status(ctx context.Context, url string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Type: ErrTypeNetwork, Message: "failed to create request", Cause: err}
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	var st Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.config.MaxResponseBody)).Decode(&st); err != nil {
		return nil, &Error{Type: ErrTypeDecode, Message: "invalid status response", Cause: err}
	}
	return &st, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (c *Client) post(ctx context.Context, url string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Type: ErrTypeDecode, Message: "failed to marshal request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Type: ErrTypeNetwork, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json, text/plain")

	c.logger.Debug("request", zap.String("url", url), zap.Int("bytes", len(body)))
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out interface{}) error {
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if err := json.NewDecoder(io.LimitReader(resp.Body, c.config.MaxResponseBody)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classify(ctx, err)
		}
		return &Error{Type: ErrTypeDecode, Message: "invalid response body", Cause: err}
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(req.Context(), err)
	}
	c.logger.Debug("response",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("ttfb", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drainAndClose(resp.Body)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxErrorBody))
		msg := "API error: " + resp.Status
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		return nil, &Error{Type: ErrTypeHTTP, Message: msg, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// classify maps a transport error onto the taxonomy. Cancellation by the
// caller wins over whatever the transport reported.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Type: ErrTypeCanceled, Message: "request canceled", Cause: context.Canceled}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &Error{Type: ErrTypeNetwork, Message: "cannot reach backend", Cause: err}
}

// Classify exposes classify for stream readers that fail after OpenStream
// returned.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return classify(ctx, err)
}

func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
