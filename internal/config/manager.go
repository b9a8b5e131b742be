// Package config loads, validates and persists the recordcache configuration
// and hands change notifications to the components that can follow them live.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. RECORDCACHE_BACKEND_API_KEY.
const EnvPrefix = "RECORDCACHE"

// ErrRestartRequired is wrapped by updates touching settings that are only
// read at startup.
var ErrRestartRequired = errors.New("requires server restart")

// ChangeCallback represents a function called when configuration changes
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter represents a function that returns the current configuration
type ConfigGetter func() *Config

// Manager holds the live configuration. Callbacks receive copies, so they
// may keep them.
type Manager struct {
	mu         sync.RWMutex
	current    *Config
	configFile string
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager. configFile is where
// SaveConfig writes and what ReloadConfig and Watch read; it may be empty.
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{current: config, configFile: configFile}
}

// GetConfig returns the current configuration (thread-safe)
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// OnConfigChange registers a callback to be called when configuration changes
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// UpdateConfig installs config once ValidateConfigUpdate accepts it and runs
// the callbacks outside the lock.
func (m *Manager) UpdateConfig(config *Config) error {
	if err := m.ValidateConfigUpdate(config); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.current.DeepCopy()
	m.current = config
	callbacks := append([]ChangeCallback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(old, config.DeepCopy())
	}
	return nil
}

// ValidateConfigUpdate checks config and rejects changes to settings that are
// only read at startup.
func (m *Manager) ValidateConfigUpdate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	current := m.GetConfig()
	if current == nil {
		return nil
	}
	switch {
	case config.API.Port != current.API.Port:
		return fmt.Errorf("api port cannot be changed at runtime: %w", ErrRestartRequired)
	case config.API.Prefix != current.API.Prefix:
		return fmt.Errorf("api prefix cannot be changed at runtime: %w", ErrRestartRequired)
	case config.Database.Path != current.Database.Path:
		return fmt.Errorf("database path cannot be changed at runtime: %w", ErrRestartRequired)
	}
	return nil
}

// ReloadConfig reloads configuration from file and notifies callbacks
func (m *Manager) ReloadConfig() error {
	config, err := LoadConfig(m.configFile)
	if err != nil {
		return err
	}
	return m.UpdateConfig(config)
}

// SaveConfig saves the current configuration to file
func (m *Manager) SaveConfig() error {
	config := m.GetConfig()
	if config == nil {
		return fmt.Errorf("no configuration to save")
	}
	return SaveToFile(config, m.configFile)
}

// Watch reloads the configuration whenever the config file is written.
// Invalid or restart-only edits are logged and the running configuration is
// kept.
func (m *Manager) Watch(logger *slog.Logger) error {
	if m.configFile == "" {
		return fmt.Errorf("no config file to watch")
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := newViper()
	v.SetConfigFile(m.configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", m.configFile, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.ReloadConfig(); err != nil {
			logger.Warn("Ignoring config file change", "file", e.Name, "error", err)
			return
		}
		logger.Info("Configuration reloaded", "file", e.Name)
	})
	v.WatchConfig()
	return nil
}

// SaveToFile writes config as YAML, creating the directory if needed.
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	data, err := Marshal(config)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders a configuration as YAML
func Marshal(config *Config) ([]byte, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// LoadConfig reads configFile over the defaults and applies RECORDCACHE_*
// environment overrides. Without an explicit file, config.yaml is looked up
// in the working directory and in ~/.recordcache; when none exists the
// defaults are used.
func LoadConfig(configFile string) (*Config, error) {
	v := newViper()

	// Defaults are read into viper so that environment overrides also apply
	// to keys the file does not mention.
	defaults, err := Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("error reading default config: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".recordcache"))
		}
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
