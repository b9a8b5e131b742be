package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scribehub/recordcache/internal/api"
	"github.com/scribehub/recordcache/internal/backend"
	"github.com/scribehub/recordcache/internal/config"
	"github.com/scribehub/recordcache/internal/database"
	"github.com/scribehub/recordcache/internal/platform"
	"github.com/scribehub/recordcache/internal/records"
	"github.com/scribehub/recordcache/internal/slogutil"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recordcache API server",
		Long:  `Start the local API in front of the transcription backend using configuration from YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration first (using default logger for config loading errors)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger, leveler := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("Starting recordcache",
		"backend", cfg.Backend.BaseURL,
		"log_file", cfg.Log.File,
		"log_level", cfg.Log.Level)

	configManager := config.NewManager(cfg, configFile)
	config.WatchLogLevel(configManager, leveler, logger)
	if configFile != "" {
		if err := configManager.Watch(logger); err != nil {
			logger.Warn("Config file changes will not be picked up", "err", err)
		}
	}
	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Backend != newConfig.Backend || oldConfig.Cache != newConfig.Cache {
			logger.Info("Backend and cache settings changed (restart required)")
		}
	})

	db, err := database.NewDB(cfg.DatabaseSettings())
	if err != nil {
		logger.Error("failed to initialize database", "err", err)
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	client := backend.New(cfg.BackendClient(), logger)
	defer func() {
		_ = client.Close()
	}()

	collection, err := records.NewCollection(cfg.Collection(), records.Deps{
		Backend: client,
		Storage: db.Documents,
		Saver:   platform.NewFileSaver(afero.NewOsFs(), cfg.Export.DownloadDir),
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create record collection", "err", err)
		return err
	}
	defer collection.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := collection.Start(ctx); err != nil {
		logger.Error("failed to start background workers", "err", err)
		return err
	}

	app := api.NewApp(logger)
	server := api.NewServer(&api.Config{Prefix: cfg.API.Prefix}, collection, configManager, logger)
	server.SetupRoutes(app)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.API.Port)
		logger.Info("API listening", "addr", addr, "prefix", cfg.API.Prefix)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("API server failed", "err", err)
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("API shutdown failed", "err", err)
	}
	return nil
}
