// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeranaias/medgemma-tui/internal/storage"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MEDGEMMA_ENDPOINT", "MEDGEMMA_FLOW", "MEDGEMMA_STORAGE",
		"MEDGEMMA_DATA_DIR", "MEDGEMMA_LOG_LEVEL", "API_URL", "PORT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("MEDGEMMA_HOME", t.TempDir())
}

func TestDefault_IsValid(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, FlowChat, cfg.API.Flow)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, ":3000", cfg.Relay.Listen)
	assert.Equal(t, "http://localhost:8000", cfg.Relay.Backend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, cfg.API.Endpoint)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
endpoint = "http://gpu-box:8000/api/chat"
flow = "analysis"

[relay]
rate_limit = 2.5
burst = 4
`), 0600))

	t.Setenv("PORT", "8080")
	t.Setenv("API_URL", "http://backend:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:8000/api/chat", cfg.API.Endpoint)
	assert.Equal(t, FlowAnalysis, cfg.API.Flow)
	assert.Equal(t, 2.5, cfg.Relay.RateLimit)
	assert.Equal(t, 4, cfg.Relay.Burst)
	assert.Equal(t, ":8080", cfg.Relay.Listen)
	assert.Equal(t, "http://backend:9000", cfg.Relay.Backend)
	// Untouched sections keep defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api]\nendpoint_url = \"x\"\n"), 0600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.endpoint_url")
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api]\nflow = \"batch\"\n[storage]\nbackend = \"s3\"\n"), 0600))
	_, err := Load(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, len(verrs))
	for i, v := range verrs {
		fields[i] = v.Field
	}
	assert.ElementsMatch(t, []string{"api.flow", "storage.backend"}, fields)
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.UI.Theme = "light"
	cfg.Relay.LogBodies = false
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestGetSet_DotNotation(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	v, err := cfg.Get("api.flow")
	require.NoError(t, err)
	assert.Equal(t, "chat", v)

	require.NoError(t, cfg.Set("relay.rate_limit", "5"))
	assert.Equal(t, 5.0, cfg.Relay.RateLimit)

	require.NoError(t, cfg.Set("ui.show_reasoning", "off"))
	assert.False(t, cfg.UI.ShowReasoning)

	require.NoError(t, cfg.Set("api.connect_timeout_seconds", 12))
	assert.Equal(t, 12, cfg.API.ConnectTimeoutSeconds)

	_, err = cfg.Get("api.nope")
	assert.Error(t, err)
	_, err = cfg.Get("api")
	assert.Error(t, err, "sections are not values")

	// Invalid values are rolled back.
	err = cfg.Set("api.flow", "batch")
	require.Error(t, err)
	assert.Equal(t, FlowChat, cfg.API.Flow)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "api.endpoint")
	assert.Contains(t, keys, "relay.log_bodies")
	assert.Contains(t, keys, "logging.file")
	for _, k := range keys {
		assert.True(t, strings.Contains(k, "."), k)
	}
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings("")
	require.NoError(t, s.Validate())
	assert.Equal(t, 0.7, s.Temperature)
	assert.Equal(t, 0.9, s.TopP)
	assert.Equal(t, 4096, s.MaxTokens)
	assert.Equal(t, 20000, s.ContextWindow)
	assert.True(t, strings.HasPrefix(s.SystemPrompt, "SYSTEM INSTRUCTION: think silently if needed.\n\nYou are MedGemma"))
	assert.Contains(t, s.DetectionPrompt, `"box_2d": [ymin, xmin, ymax, xmax]`)
}

func TestSettings_URLs(t *testing.T) {
	s := DefaultSettings("http://host:3000/api/chat")
	assert.Equal(t, "http://host:3000/api/detect", s.DetectURL())
	assert.Equal(t, "http://host:3000/api/status", s.StatusURL())

	// Only the first occurrence is replaced.
	s.APIEndpoint = "http://chat.local/api/chat"
	assert.Equal(t, "http://chat.local/api/detect", s.DetectURL())
	s.APIEndpoint = "http://host/chat/api/chat"
	assert.Equal(t, "http://host/detect/api/chat", s.DetectURL())
}

func TestSettingKeys(t *testing.T) {
	assert.Equal(t, []string{
		"systemPrompt", "detectionPrompt", "temperature", "topP",
		"maxTokens", "contextWindow", "apiEndpoint",
	}, SettingKeys())
}

func TestSettingsStore_UpdatePersists(t *testing.T) {
	kv := storage.NewMemoryKV()
	store := NewSettingsStore(kv, DefaultSettings(""), nil)

	var seen []Settings
	store.OnChange(func(s Settings) { seen = append(seen, s) })

	got, err := store.Update("temperature", "0.2")
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 0.2, store.Get().Temperature)
	require.Len(t, seen, 1)

	data, err := kv.Get(SettingsKey)
	require.NoError(t, err)
	var persisted Settings
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, 0.2, persisted.Temperature)

	// A new store sees the stored value.
	again := NewSettingsStore(kv, DefaultSettings(""), nil)
	assert.Equal(t, 0.2, again.Get().Temperature)
}

func TestSettingsStore_UpdateRejects(t *testing.T) {
	store := NewSettingsStore(storage.NewMemoryKV(), DefaultSettings(""), nil)

	tests := []struct {
		key, value string
	}{
		{"temperature", "3"},
		{"temperature", "warm"},
		{"topP", "0"},
		{"maxTokens", "0"},
		{"maxTokens", "1.5"},
		{"apiEndpoint", "ftp://x/api/chat"},
		{"unknown", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := store.Update(tt.key, tt.value)
			require.Error(t, err)
			assert.Equal(t, DefaultSettings(""), got)
		})
	}
	assert.Equal(t, DefaultSettings(""), store.Get())
}

func TestSettingsStore_Reset(t *testing.T) {
	store := NewSettingsStore(storage.NewMemoryKV(), DefaultSettings(""), nil)
	_, err := store.Update("systemPrompt", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "be brief", store.Get().SystemPrompt)

	assert.Equal(t, DefaultSettings(""), store.Reset())
	assert.Equal(t, DefaultSettings(""), store.Get())
}

func TestSettingsStore_PartialRecordOverlaysDefaults(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(SettingsKey, []byte(`{"maxTokens":512}`)))
	store := NewSettingsStore(kv, DefaultSettings(""), nil)
	got := store.Get()
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, DefaultSystemPrompt, got.SystemPrompt)
}

func TestSettingsStore_CorruptRecord(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(SettingsKey, []byte(`{not json`)))

	store := NewSettingsStore(kv, DefaultSettings(""), zap.New(core))
	assert.Equal(t, DefaultSettings(""), store.Get())
	assert.Equal(t, 1, logs.Len())
}

func TestSettingsStore_WriteFailureKeepsValue(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	kv := storage.NewMemoryKV()
	kv.FailWrites = func(string) error { return errors.New("quota exceeded") }

	store := NewSettingsStore(kv, DefaultSettings(""), zap.New(core))
	got, err := store.Update("topP", "0.5")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.TopP)
	assert.Equal(t, 1, logs.FilterMessage("save settings").Len())
}

func TestSettingsStore_ConcurrentAccess(t *testing.T) {
	store := NewSettingsStore(storage.NewMemoryKV(), DefaultSettings(""), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Update("maxTokens", "1024")
		}()
		go func() {
			defer wg.Done()
			_ = store.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1024, store.Get().MaxTokens)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	cfg := Default()
	cfg.Relay.RateLimit = 42
	require.NoError(t, Save(cfg, path))

	select {
	case c := <-got:
		assert.Equal(t, 42.0, c.Relay.RateLimit)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	require.NoError(t, <-done)
}
