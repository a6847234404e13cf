// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/storage"
)

// SettingsKey is the KV key holding the persisted Settings.
const SettingsKey = "medgemma_settings"

// Settings are the generation parameters sent with each request.
type Settings struct {
	SystemPrompt    string  `json:"systemPrompt"`
	DetectionPrompt string  `json:"detectionPrompt"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxTokens       int     `json:"maxTokens"`
	ContextWindow   int     `json:"contextWindow"`
	APIEndpoint     string  `json:"apiEndpoint"`
}

// DefaultSettings returns the fixed default snapshot for endpoint.
func DefaultSettings(endpoint string) Settings {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return Settings{
		SystemPrompt:    DefaultSystemPrompt,
		DetectionPrompt: DefaultDetectionPrompt,
		Temperature:     0.7,
		TopP:            0.9,
		MaxTokens:       4096,
		ContextWindow:   20000,
		APIEndpoint:     endpoint,
	}
}

// DetectURL is the native detection endpoint: the first "/chat" in the
// chat endpoint replaced with "/detect".
func (s Settings) DetectURL() string {
	return strings.Replace(s.APIEndpoint, "/chat", "/detect", 1)
}

// StatusURL is the backend health endpoint.
func (s Settings) StatusURL() string {
	return strings.Replace(s.APIEndpoint, "/chat", "/status", 1)
}

// Validate checks ranges.
func (s Settings) Validate() error {
	var errs ValidateErrors
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "temperature", Message: "must be between 0 and 2"})
	}
	if s.TopP <= 0 || s.TopP > 1 {
		errs = append(errs, ValidationError{Field: "topP", Message: "must be in (0, 1]"})
	}
	if s.MaxTokens < 1 {
		errs = append(errs, ValidationError{Field: "maxTokens", Message: "must be at least 1"})
	}
	if s.ContextWindow < 0 {
		errs = append(errs, ValidationError{Field: "contextWindow", Message: "must not be negative (0 disables trimming)"})
	}
	if err := validateHTTPURL(s.APIEndpoint); err != nil {
		errs = append(errs, ValidationError{Field: "apiEndpoint", Message: err.Error()})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SettingKeys lists the keys accepted by SettingsStore.Update.
func SettingKeys() []string {
	return leafKeys(Settings{}, "json")
}

// Get returns one setting by key.
func (s Settings) Get(key string) (interface{}, error) {
	field, err := lookup(&s, key, "json")
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

// SettingsStore owns the current Settings. Every mutation goes through
// Update, Apply or Reset and is persisted before observers run.
type SettingsStore struct {
	mu       sync.RWMutex
	kv       storage.KV
	defaults Settings
	current  Settings
	logger   *zap.Logger
	onChange []func(Settings)
}

// NewSettingsStore loads persisted settings over defaults. A missing or
// corrupt record leaves the defaults in place.
func NewSettingsStore(kv storage.KV, defaults Settings, logger *zap.Logger) *SettingsStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SettingsStore{kv: kv, defaults: defaults, current: defaults, logger: logger}

	data, err := kv.Get(SettingsKey)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		logger.Warn("load settings", zap.Error(err))
	default:
		loaded := defaults
		if err := json.Unmarshal(data, &loaded); err != nil {
			logger.Warn("corrupt settings record, using defaults", zap.Error(err))
		} else if err := loaded.Validate(); err != nil {
			logger.Warn("stored settings invalid, using defaults", zap.Error(err))
		} else {
			s.current = loaded
		}
	}
	return s
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Defaults returns the snapshot Reset restores.
func (s *SettingsStore) Defaults() Settings {
	return s.defaults
}

// OnChange registers fn to run after every successful mutation.
func (s *SettingsStore) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Update sets one key from its string form. The value is converted to the
// field's type and the result validated before anything is stored.
func (s *SettingsStore) Update(key, value string) (Settings, error) {
	s.mu.Lock()
	next := s.current
	field, err := lookup(&next, key, "json")
	if err != nil {
		s.mu.Unlock()
		return s.Get(), err
	}
	if err := setFieldValue(field, value); err != nil {
		s.mu.Unlock()
		return s.Get(), ValidationError{Field: key, Message: err.Error()}
	}
	s.mu.Unlock()
	return s.Apply(next)
}

// Apply replaces all settings at once.
func (s *SettingsStore) Apply(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}

	s.mu.Lock()
	s.current = next
	observers := append([]func(Settings){}, s.onChange...)
	s.mu.Unlock()

	s.persist(next)
	for _, fn := range observers {
		fn(next)
	}
	return next, nil
}

// Reset restores the defaults.
func (s *SettingsStore) Reset() Settings {
	out, _ := s.Apply(s.defaults)
	return out
}

func (s *SettingsStore) persist(v Settings) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encode settings", zap.Error(err))
		return
	}
	if err := s.kv.Set(SettingsKey, data); err != nil {
		s.logger.Warn("save settings", zap.Error(fmt.Errorf("%s: %w", SettingsKey, err)))
	}
}
