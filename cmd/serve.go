package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/spf13/cobra"

	"stockroom/internal/api"
	"stockroom/internal/config"
	"stockroom/internal/database"
	"stockroom/internal/inventory"
	"stockroom/internal/monitoring"
	"stockroom/internal/session"
	"stockroom/internal/sheets"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	// Initialize context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := newLogger(cfg.Server.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	// Initialize database
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := monitoring.NewMetrics()
	monitor := monitoring.NewMonitor()

	mgr, err := newSessionManager(cfg, db, logger, metrics)
	if err != nil {
		return err
	}

	client, err := sheets.NewClient(ctx, sheets.ClientOptions{
		SpreadsheetID:     cfg.Sheets.SpreadsheetID,
		APIKey:            cfg.Sheets.APIKey,
		Endpoint:          cfg.Sheets.Endpoint,
		TokenSource:       mgr,
		RequestsPerSecond: cfg.Sheets.RequestsPerSecond,
		Burst:             cfg.Sheets.Burst,
		Metrics:           metrics,
		Logger:            logger.With("component", "sheets"),
	})
	if err != nil {
		return err
	}
	adapter := sheets.NewAdapter(client, sheets.AdapterOptions{
		ItemSheet:         cfg.Sheets.ItemSheet,
		ReferenceSheet:    cfg.Sheets.ReferenceSheet,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		Logger:            logger.With("component", "sheets"),
	})
	if cfg.ProbeEnabled() {
		mgr.SetProber(adapter)
	}

	store := inventory.NewStore(inventory.Options{
		Backend:           adapter,
		Gate:              mgr,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		Logger:            logger.With("component", "inventory"),
		Metrics:           metrics,
		Monitor:           monitor,
	})
	go func() {
		if err := store.Init(ctx); err != nil {
			logger.Warn("initial load failed", "error", err)
		}
	}()

	// Initialize API server
	inventoryAPI := api.NewInventoryAPI(store, mgr, monitor, logger.With("component", "api"))

	// Start metrics server
	if cfg.Server.MetricsPort > 0 {
		go startMetricsServer(cfg.Server.MetricsPort, metrics, logger)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: inventoryAPI.Router,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down servers")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}

		cancel() // Cancel main context
	}()

	logger.Info("starting API server", "port", cfg.Server.Port, "spreadsheet", cfg.Sheets.SpreadsheetID)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func newSessionManager(cfg *config.Config, db *gorm.DB, logger *slog.Logger, metrics *monitoring.Metrics) (*session.Manager, error) {
	provider := session.NewGoogleProvider(session.GoogleConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       cfg.OAuth.Scopes,
	})
	sessionLogger := logger.With("component", "session")
	return session.NewManager(session.Options{
		Provider: provider,
		Store:    database.NewSessionStore(db, database.DefaultSlot),
		Prompter: session.PrompterFunc(func(authURL string) {
			sessionLogger.Info("open this URL to sign in", "url", authURL)
		}),
		Logger:         sessionLogger,
		Metrics:        metrics,
		TokenLifetime:  cfg.Session.TokenLifetime,
		SignInTimeout:  cfg.Session.SignInTimeout,
		RefreshTimeout: cfg.Session.RefreshTimeout,
	})
}

func startMetricsServer(port int, metrics *monitoring.Metrics, logger *slog.Logger) {
	metricsRouter := gin.New()
	metricsRouter.Use(gin.Recovery())
	metricsRouter.GET("/metrics", gin.WrapH(metrics.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsRouter,
	}

	logger.Info("starting metrics server", "port", port)
	if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("metrics server error", "error", err)
	}
}
