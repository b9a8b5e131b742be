package config

import (
	"log/slog"
)

// LevelSetter is implemented by loggers whose level can change at runtime.
type LevelSetter interface {
	SetLevel(level slog.Level)
}

// WatchLogLevel keeps setter in sync with log.level of every config the
// manager accepts.
func WatchLogLevel(m *Manager, setter LevelSetter, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	m.OnConfigChange(func(oldConfig, newConfig *Config) {
		if oldConfig != nil && oldConfig.Log.Level == newConfig.Log.Level {
			return
		}
		setter.SetLevel(newConfig.Log.SlogLevel())
		logger.Info("Log level updated", "level", newConfig.Log.SlogLevel().String())
	})
}
