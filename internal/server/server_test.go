// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeranaias/medgemma-tui/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func relayConfig(backend string) config.RelayConfig {
	return config.RelayConfig{
		Listen:    "127.0.0.1:0",
		Backend:   backend,
		Burst:     1,
		LogBodies: true,
	}
}

func newRelay(t *testing.T, cfg config.RelayConfig, logger *zap.Logger) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(cfg, logger)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

// ============================================================================
// CONSTRUCTION
// ============================================================================

func TestNew_InvalidBackend(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "ftp://host", "http://"} {
		_, err := New(relayConfig(raw), nil)
		assert.Error(t, err, raw)
	}
}

func TestReconfigure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s, err := New(relayConfig("http://localhost:8000/"), zap.New(core))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "http://localhost:8000", s.Backend())

	cfg := relayConfig("http://10.0.0.5:9000")
	cfg.Listen = ":4000"
	require.NoError(t, s.Reconfigure(cfg))
	assert.Equal(t, "http://10.0.0.5:9000", s.Backend())
	assert.Equal(t, 1, logs.FilterMessage("listen address change ignored until restart").Len())

	assert.Error(t, s.Reconfigure(relayConfig("nope")))
	assert.Equal(t, "http://10.0.0.5:9000", s.Backend())
}

// ============================================================================
// HANDLERS
// ============================================================================

func TestEnvConfig(t *testing.T) {
	s, err := New(relayConfig("http://localhost:8000"), nil)
	require.NoError(t, err)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/env-config.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `window.MEDGEMMA_CONFIG = { apiBaseUrl: "" };`, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/javascript"))
}

func TestProxy_ForwardsRequest(t *testing.T) {
	type seen struct {
		method, path, query, contentType, requestID string
		body                                        []byte
	}
	got := make(chan seen, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), r.Header.Get("X-Request-ID"), body}
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer backend.Close()

	_, relay := newRelay(t, relayConfig(backend.URL), nil)

	resp, err := relay.Client().Post(relay.URL+"/api/chat?x=1", "text/plain", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Backend"))
	assert.Equal(t, `{"ok":true}`, string(body))

	s := <-got
	assert.Equal(t, http.MethodPost, s.method)
	assert.Equal(t, "/api/chat", s.path)
	assert.Equal(t, "x=1", s.query)
	assert.Equal(t, "application/json", s.contentType)
	assert.Len(t, s.requestID, 36)
	assert.JSONEq(t, `{"messages":[]}`, string(s.body))
}

func TestProxy_GetStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{"status":"ok","model_loaded":true}`)
	}))
	defer backend.Close()

	_, relay := newRelay(t, relayConfig(backend.URL), nil)

	resp, err := relay.Client().Get(relay.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok","model_loaded":true}`, string(body))
}

func TestProxy_StreamsChunks(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer backend.Close()

	_, relay := newRelay(t, relayConfig(backend.URL), nil)

	resp, err := relay.Client().Post(relay.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The first event arrives while the backend is still holding the stream open.
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n", line)

	close(release)
	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "\ndata: [DONE]\n\n", string(rest))
}

func TestProxy_UpstreamFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	core, logs := observer.New(zap.InfoLevel)
	_, relay := newRelay(t, relayConfig(deadURL), zap.New(core))

	resp, err := relay.Client().Post(relay.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "Proxy Error", payload["error"])
	assert.NotEmpty(t, payload["details"])
	assert.Equal(t, 1, logs.FilterMessage("proxy error").Len())
}

func TestProxy_LogsRedactedBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer backend.Close()

	core, logs := observer.New(zap.InfoLevel)
	image := "data:image/png;base64," + strings.Repeat("A", 500)
	reqBody := `{"messages":[{"role":"user","content":[{"type":"image","image":"` + image + `"},{"type":"text","text":"hi"}]}]}`

	_, relay := newRelay(t, relayConfig(backend.URL), zap.New(core))
	resp, err := relay.Client().Post(relay.URL+"/api/chat", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	resp.Body.Close()

	entries := logs.FilterMessage("request body").All()
	require.Len(t, entries, 1)
	logged := entries[0].ContextMap()["body"].(string)
	assert.NotContains(t, logged, strings.Repeat("A", 100))
	assert.Contains(t, logged, "[Image: data:image/png;base64,AAAAAAAA... (522 chars)]")
}

func TestProxy_BodyLoggingDisabled(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	core, logs := observer.New(zap.InfoLevel)
	cfg := relayConfig(backend.URL)
	cfg.LogBodies = false
	_, relay := newRelay(t, cfg, zap.New(core))

	resp, err := relay.Client().Post(relay.URL+"/api/chat", "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Zero(t, logs.FilterMessage("request body").Len())
	assert.Equal(t, 1, logs.FilterMessage("proxy").Len())
}

func TestProxy_RateLimited(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	cfg := relayConfig(backend.URL)
	cfg.RateLimit = 0.5
	cfg.Burst = 1
	s, err := New(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	do := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/api/status", "192.0.2.1:1000").Code)
	second := do("/api/status", "192.0.2.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusOK, do("/api/status", "192.0.2.2:1000").Code)

	// The static routes are not limited.
	assert.NotEqual(t, http.StatusTooManyRequests, do("/env-config.js", "192.0.2.1:1002").Code)
}

func TestStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>index</html>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0644))

	cfg := relayConfig("http://localhost:8000")
	cfg.StaticDir = dir
	s, err := New(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, "console.log(1)", get("/app.js").Body.String())
	assert.Equal(t, "<html>index</html>", get("/chat/123").Body.String())
	assert.Equal(t, "<html>index</html>", get("/").Body.String())

	cfg.StaticDir = ""
	require.NoError(t, s.Reconfigure(cfg))
	assert.Equal(t, http.StatusNotFound, get("/app.js").Code)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, err := New(relayConfig("http://localhost:8000"), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/env-config.js")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func TestRedactBody(t *testing.T) {
	img := "data:image/jpeg;base64," + strings.Repeat("B", 100)
	in := `{"messages":[
		{"role":"system","content":"plain string"},
		{"role":"user","content":[
			{"type":"image_url","image_url":{"url":"` + img + `"}},
			{"type":"image_url","image_url":{"url":"https://example.com/x.png"}},
			{"type":"image","image":"` + img + `"},
			{"type":"text","text":"a <b> c"}
		]}
	],"stream":true,"temperature":0.7}`

	out, err := RedactBody([]byte(in))
	require.NoError(t, err)

	summary := "[Image: data:image/jpeg;base64,BBBBBBB... (123 chars)]"
	want := `{"messages":[
		{"role":"system","content":"plain string"},
		{"role":"user","content":[
			{"type":"image_url","image_url":{"url":"` + summary + `"}},
			{"type":"image_url","image_url":{"url":"https://example.com/x.png"}},
			"` + summary + `",
			{"type":"text","text":"a <b> c"}
		]}
	],"stream":true,"temperature":0.7}`
	assert.JSONEq(t, want, string(out))
	assert.Contains(t, string(out), "a <b> c")
	assert.Contains(t, string(out), "0.7")

	_, err = RedactBody([]byte("not json"))
	assert.Error(t, err)
}

func TestIPLimiterSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(100, 10)
	l.now = func() time.Time { return now }

	ok, _ := l.allow("a")
	assert.True(t, ok)
	ok, _ = l.allow("b")
	assert.True(t, ok)
	assert.Equal(t, 2, l.size())

	now = now.Add(idleTTL + time.Second)
	ok, _ = l.allow("b")
	assert.True(t, ok)
	assert.Equal(t, 1, l.size())
}

func TestIPLimiterDisabled(t *testing.T) {
	l := newIPLimiter(0, 0)
	for i := 0; i < 100; i++ {
		ok, _ := l.allow("a")
		require.True(t, ok)
	}
	assert.Zero(t, l.size())
}
