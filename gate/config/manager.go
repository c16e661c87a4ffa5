package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config file is given
const DefaultPath = "config.yaml"

// Environment variables that override secrets from the file
const (
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
)

// Manager loads, caches and saves the gate configuration file
type Manager struct {
	path    string
	current *Config
	mu      sync.RWMutex
}

// NewManager creates a manager for the file at path. Nothing is read until Load.
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{
		path:    path,
		current: Default(),
	}
}

// Path returns the file the manager reads from
func (m *Manager) Path() string {
	return m.path
}

// Load reads the file, applies environment overrides and validates the
// result. A missing file yields the defaults. An invalid configuration is
// still returned and becomes current, together with an ErrInvalidConfig
// error, so the caller can disable verification until it is fixed. A file
// that cannot be read or parsed leaves the current configuration untouched.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	return cfg.Clone(), Validate(cfg)
}

// Reload is Load under the name used by admin surfaces
func (m *Manager) Reload() (*Config, error) {
	return m.Load()
}

// Current returns a copy of the last loaded configuration
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// SaveDefault writes the default configuration when the file does not exist.
// It reports whether a file was written.
func (m *Manager) SaveDefault() (bool, error) {
	if _, err := os.Stat(m.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := m.Save(Default()); err != nil {
		return false, err
	}
	return true, nil
}

// Save validates cfg and writes it to the manager's file
func (m *Manager) Save(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.mu.Lock()
	m.current = cfg.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// An explicit empty list means the same as an absent one.
	if len(cfg.Verification.BypassUsers) == 0 {
		cfg.Verification.BypassUsers = nil
	}
	if len(cfg.Settings.RewardCommands) == 0 {
		cfg.Settings.RewardCommands = nil
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

func applyEnv(cfg *Config) error {
	if token := os.Getenv(EnvTelegramToken); token != "" {
		cfg.Telegram.BotToken = token
	}
	if raw := os.Getenv(EnvTelegramChatID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer: %v", ErrInvalidConfig, EnvTelegramChatID, err)
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}
