package slogutil

import (
	"io"
	"log/slog"
	"os"

	"github.com/scribehub/recordcache/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ReplaceAttrFunc rewrites attributes before they are written.
type ReplaceAttrFunc func(groups []string, a slog.Attr) slog.Attr

// Config configures NewHandler.
type Config struct {
	Level       slog.Leveler
	ReplaceAttr ReplaceAttrFunc
	Hooks       []Hook
	AddSource   bool
	// Writer receives the records. Defaults to stdout.
	Writer io.Writer
	// JSON switches from text to JSON output.
	JSON bool
}

func mergeConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Level == nil {
		cfg.Level = defaultLevel()
	}

	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	return cfg
}

func defaultLevel() slog.Leveler {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return config.LogConfig{Level: v}.SlogLevel()
	}

	return slog.LevelInfo
}

// SetupLogRotation configures slog with log rotation using lumberjack.
// If logConfig.File is empty, it logs to console only; otherwise it logs to
// both console and the rotated file. The returned leveler follows later
// log.level changes.
func SetupLogRotation(logConfig config.LogConfig) (*slog.Logger, *DynamicLeveler) {
	var writer io.Writer = os.Stdout

	if logConfig.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   logConfig.File,
			MaxSize:    logConfig.MaxSize,    // MB
			MaxBackups: logConfig.MaxBackups, // number of old files
			MaxAge:     logConfig.MaxAge,     // days
			Compress:   logConfig.Compress,   // compress old files
		}
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	leveler := NewDynamicLeveler(logConfig.SlogLevel())
	handler := NewHandler(Config{
		Level:       leveler,
		Writer:      writer,
		ReplaceAttr: Redact("api_key"),
	})

	return slog.New(handler), leveler
}
