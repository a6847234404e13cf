// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/medgemma-tui/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the program configuration.
type Config struct {
	API     APIConfig     `toml:"api" json:"api"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Relay   RelayConfig   `toml:"relay" json:"relay"`
	UI      UIConfig      `toml:"ui" json:"ui"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// Flow names how chat responses are requested and decoded.
const (
	FlowChat     = "chat"     // OpenAI-style event stream
	FlowAnalysis = "analysis" // backend-native raw text stream
)

// APIConfig points at the inference service.
type APIConfig struct {
	// Endpoint is the chat URL; the detection URL replaces "/chat" with
	// "/detect".
	Endpoint string `toml:"endpoint" json:"endpoint"`

	// Flow is "chat" or "analysis".
	Flow string `toml:"flow" json:"flow"`

	// ConnectTimeoutSeconds bounds dialing. Once connected a request has
	// no deadline of its own.
	ConnectTimeoutSeconds int `toml:"connect_timeout_seconds" json:"connect_timeout_seconds"`

	// TrimHistory fits the history to the contextWindow setting before it
	// is sent. Off by default: the backend's context manager trims.
	TrimHistory bool `toml:"trim_history" json:"trim_history"`
}

// StorageConfig selects where sessions live.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend"` // file, sqlite or memory
	Dir     string `toml:"dir" json:"dir"`
}

// RelayConfig configures the logging reverse proxy.
type RelayConfig struct {
	Listen    string  `toml:"listen" json:"listen"`
	Backend   string  `toml:"backend" json:"backend"`
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"` // requests per second per client, 0 = off
	Burst     int     `toml:"burst" json:"burst"`
	LogBodies bool    `toml:"log_bodies" json:"log_bodies"`
	StaticDir string  `toml:"static_dir" json:"static_dir"`
}

// UIConfig holds terminal UI preferences.
type UIConfig struct {
	Theme         string `toml:"theme" json:"theme"` // dark, light or auto
	ShowReasoning bool   `toml:"show_reasoning" json:"show_reasoning"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultEndpoint       = "http://localhost:3000/api/chat"
	DefaultRelayListen    = ":3000"
	DefaultRelayBackend   = "http://localhost:8000"
	DefaultConnectTimeout = 30
)

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := Dir()
	if err != nil {
		dir = ".medgemma"
	}
	return &Config{
		API: APIConfig{
			Endpoint:              DefaultEndpoint,
			Flow:                  FlowChat,
			ConnectTimeoutSeconds: DefaultConnectTimeout,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     filepath.Join(dir, "data"),
		},
		Relay: RelayConfig{
			Listen:    DefaultRelayListen,
			Backend:   DefaultRelayBackend,
			RateLimit: 10,
			Burst:     20,
			LogBodies: true,
		},
		UI: UIConfig{
			Theme:         "auto",
			ShowReasoning: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the medgemma home directory (MEDGEMMA_HOME or ~/.medgemma).
func Dir() (string, error) {
	if home := os.Getenv("MEDGEMMA_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".medgemma"), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD AND SAVE
// =============================================================================

// Load reads path (the default path when empty). A missing file is not an
// error. Environment overrides are applied after the file, then the result
// is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg. Keys not present keep their current value.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# medgemma configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String renders cfg as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnvOverrides applies environment variables:
//   - MEDGEMMA_ENDPOINT: api.endpoint
//   - MEDGEMMA_FLOW: api.flow
//   - MEDGEMMA_STORAGE: storage.backend
//   - MEDGEMMA_DATA_DIR: storage.dir
//   - MEDGEMMA_LOG_LEVEL: logging.level
//   - API_URL: relay.backend
//   - PORT: relay.listen (as ":PORT")
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MEDGEMMA_ENDPOINT"); v != "" {
		c.API.Endpoint = v
	}
	if v := os.Getenv("MEDGEMMA_FLOW"); v != "" {
		c.API.Flow = v
	}
	if v := os.Getenv("MEDGEMMA_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("MEDGEMMA_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("MEDGEMMA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("API_URL"); v != "" {
		c.Relay.Backend = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Relay.Listen = ":" + strings.TrimPrefix(v, ":")
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateHTTPURL(c.API.Endpoint); err != nil {
		errs = append(errs, ValidationError{Field: "api.endpoint", Message: err.Error()})
	}
	if c.API.Flow != FlowChat && c.API.Flow != FlowAnalysis {
		errs = append(errs, ValidationError{
			Field:   "api.flow",
			Message: fmt.Sprintf("invalid flow %q, must be one of: chat, analysis", c.API.Flow),
		})
	}
	if c.API.ConnectTimeoutSeconds < 0 {
		errs = append(errs, ValidationError{Field: "api.connect_timeout_seconds", Message: "must not be negative"})
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q, must be one of: file, sqlite, memory", c.Storage.Backend),
		})
	}
	if c.Storage.Backend != "memory" && c.Storage.Dir == "" {
		errs = append(errs, ValidationError{Field: "storage.dir", Message: "required"})
	}

	if err := validateHTTPURL(c.Relay.Backend); err != nil {
		errs = append(errs, ValidationError{Field: "relay.backend", Message: err.Error()})
	}
	if c.Relay.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "relay.rate_limit", Message: "must not be negative"})
	}
	if c.Relay.RateLimit > 0 && c.Relay.Burst < 1 {
		errs = append(errs, ValidationError{Field: "relay.burst", Message: "must be at least 1 when rate_limit is set"})
	}

	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme %q, must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q, must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("URL must use http or https")
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

// =============================================================================
// GET/SET (DOT NOTATION)
// =============================================================================

// Get returns a value by dot path, e.g. "relay.rate_limit".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := lookup(c, key, "toml")
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by dot path, converting strings to the field type.
// The change is validated and rolled back when invalid.
func (c *Config) Set(key string, value interface{}) error {
	prev := *c
	field, err := lookup(c, key, "toml")
	if err != nil {
		return err
	}
	if err := setFieldValue(field, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := c.Validate(); err != nil {
		*c = prev
		return err
	}
	return nil
}

// Keys lists every dot path.
func Keys() []string {
	return leafKeys(Config{}, "toml")
}

// FormatValue renders a Get result for display.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
