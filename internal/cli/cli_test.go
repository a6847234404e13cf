// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/medgemma-tui/internal/model"
)

// =============================================================================
// HARNESS
// =============================================================================

// fakeBackend answers the chat, detect and status endpoints.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"choices":[{"message":{"content":"[{\"label\":\"nodule\",\"box_2d\":[100,200,300,400],\"description\":\"upper lobe\"}]"}}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"No acute", " findings."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/api/detect", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","findings":[{"label":"effusion","box_2d":[10,20,30,40]}],"thought":"looked at the base"}`)
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","model_loaded":true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setupEnv points every path at a temp home and the API at srv.
func setupEnv(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("MEDGEMMA_HOME", home)
	t.Setenv("MEDGEMMA_STORAGE", "file")
	t.Setenv("MEDGEMMA_DATA_DIR", "")
	t.Setenv("NO_COLOR", "1")
	if srv != nil {
		t.Setenv("MEDGEMMA_ENDPOINT", srv.URL+"/api/chat")
	}
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root, closeApp := NewRootCommand(&out, &errOut)
	root.SetArgs(append([]string{"--quiet"}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, closeApp())
	return out.String(), err
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600))
	return path
}

// =============================================================================
// ASK AND DETECT
// =============================================================================

func TestAsk_StreamsAndSaves(t *testing.T) {
	setupEnv(t, fakeBackend(t))

	out, err := execute(t, "ask", "Is", "this", "normal?")
	require.NoError(t, err)
	assert.Contains(t, out, "No acute findings.")

	out, err = execute(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Is this normal?")

	out, err = execute(t, "sessions", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "[2]")
	assert.Contains(t, out, "No acute findings.")
}

func TestAsk_WithImageAndNewSession(t *testing.T) {
	setupEnv(t, fakeBackend(t))

	_, err := execute(t, "ask", "first")
	require.NoError(t, err)
	_, err = execute(t, "ask", "--new", "--image", writePNG(t), "second")
	require.NoError(t, err)

	out, err := execute(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")

	out, err = execute(t, "sessions", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "image/png")
}

func TestAsk_EmptyQuestionRejected(t *testing.T) {
	setupEnv(t, fakeBackend(t))
	_, err := execute(t, "ask", "   ")
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAsk_BackendDown(t *testing.T) {
	srv := fakeBackend(t)
	setupEnv(t, srv)
	srv.Close()

	_, err := execute(t, "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message not sent")

	out, err := execute(t, "sessions", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "(empty session)")
}

func TestDetect_JSON(t *testing.T) {
	setupEnv(t, fakeBackend(t))

	out, err := execute(t, "detect", "--json", writePNG(t))
	require.NoError(t, err)

	var findings []model.Finding
	require.NoError(t, json.Unmarshal([]byte(out), &findings))
	require.Len(t, findings, 1)
	assert.Equal(t, "nodule", findings[0].Label)
	assert.Equal(t, model.Box{100, 200, 300, 400}, findings[0].Box)
}

func TestDetect_NativeTable(t *testing.T) {
	setupEnv(t, fakeBackend(t))

	out, err := execute(t, "detect", "--native", writePNG(t))
	require.NoError(t, err)
	assert.Contains(t, out, "effusion")
	assert.Contains(t, out, "100,200,300,400", "0-100 boxes are scaled")
}

func TestDetect_MissingFile(t *testing.T) {
	setupEnv(t, fakeBackend(t))
	_, err := execute(t, "detect", filepath.Join(t.TempDir(), "nope.png"))
	assert.Error(t, err)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessions_ExportAndDelete(t *testing.T) {
	setupEnv(t, fakeBackend(t))
	_, err := execute(t, "ask", "export me")
	require.NoError(t, err)

	dir := t.TempDir()
	out, err := execute(t, "sessions", "export", "--format", "json", "--dir", dir)
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "export me")

	_, err = execute(t, "sessions", "export", "--format", "pdf", "--dir", dir)
	assert.Error(t, err)

	out, err = execute(t, "sessions", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	out, err = execute(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")
}

func TestSessions_UnknownRef(t *testing.T) {
	setupEnv(t, nil)
	_, err := execute(t, "sessions", "show", "7")
	assert.Error(t, err)
}

// =============================================================================
// SETTINGS AND CONFIG
// =============================================================================

func TestSettings_SetGetReset(t *testing.T) {
	setupEnv(t, nil)

	_, err := execute(t, "settings", "set", "temperature", "0.25")
	require.NoError(t, err)

	out, err := execute(t, "settings", "get", "temperature")
	require.NoError(t, err)
	assert.Equal(t, "0.25", strings.TrimSpace(out))

	_, err = execute(t, "settings", "set", "temperature", "9")
	assert.Error(t, err, "out of range")

	_, err = execute(t, "settings", "set", "systemPrompt", "Answer", "briefly.")
	require.NoError(t, err)
	out, err = execute(t, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"systemPrompt": "Answer briefly."`)

	_, err = execute(t, "settings", "reset")
	require.NoError(t, err)
	out, err = execute(t, "settings", "get", "temperature")
	require.NoError(t, err)
	assert.Equal(t, "0.7", strings.TrimSpace(out))
}

func TestConfig_SetGetPath(t *testing.T) {
	home := setupEnv(t, nil)

	out, err := execute(t, "config", "path")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(home, "config.toml"), path)

	_, err = execute(t, "config", "set", "relay.rate_limit", "5")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rate_limit = 5")

	out, err = execute(t, "config", "get", "relay.rate_limit")
	require.NoError(t, err)
	assert.Equal(t, "5", strings.TrimSpace(out))

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "rate_limit = 5")

	_, err = execute(t, "config", "set", "no.such.key", "1")
	assert.Error(t, err)
}

func TestConfig_EnvOverrideNotPersisted(t *testing.T) {
	home := setupEnv(t, nil)
	t.Setenv("MEDGEMMA_FLOW", "analysis")

	_, err := execute(t, "config", "set", "ui.theme", "dark")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "analysis")

	out, err := execute(t, "config", "get", "api.flow")
	require.NoError(t, err)
	assert.Equal(t, "analysis", strings.TrimSpace(out))
}

// =============================================================================
// STATUS AND VERSION
// =============================================================================

func TestStatus(t *testing.T) {
	srv := fakeBackend(t)
	setupEnv(t, srv)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/api/chat")
	assert.Contains(t, out, "chat")
	assert.Contains(t, out, "loaded")
}

func TestVersion(t *testing.T) {
	setupEnv(t, nil)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "medgemma "+Version)
}

func TestFlowFlagRejectsUnknown(t *testing.T) {
	setupEnv(t, nil)
	_, err := execute(t, "--flow", "sideways", "status")
	assert.Error(t, err)
}
