package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shopify-sync-service/internal/api"
	"shopify-sync-service/internal/config"
	"shopify-sync-service/internal/database"
	"shopify-sync-service/internal/logger"
	"shopify-sync-service/internal/shopify"
	"shopify-sync-service/internal/store"
	"shopify-sync-service/internal/sync"
)

func main() {
	// Load Config
	cfgPath := os.Getenv("SHOPSYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Shopify Sync Service",
		zap.String("shop", cfg.Shopify.ShopDomain))

	// Init Mirror DB + Store
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to init database", zap.Error(err))
	}
	mirrorStore := store.NewMySQLStore(db)
	defer mirrorStore.Close()

	if err := mirrorStore.InitSchema(context.Background()); err != nil {
		logger.Log.Fatal("Failed to init schema", zap.Error(err))
	}

	// Init Upstream Client
	client, err := shopify.NewClient(cfg.Shopify)
	if err != nil {
		logger.Log.Fatal("Failed to init shopify client", zap.Error(err))
	}

	// Init Sync Manager
	manager := sync.NewManager(cfg, mirrorStore, client)

	// Daily auto-sync scheduler
	scheduler, err := sync.NewScheduler(cfg.Scheduler, manager)
	if err != nil {
		logger.Log.Fatal("Failed to init scheduler", zap.Error(err))
	}
	scheduler.Start()

	// Periodic stuck-sync sweep; the same cleanup is reachable over HTTP for
	// an external cron.
	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.Detector.SweepInterval, func() {
		result, err := manager.RunCleanup(context.Background())
		if err != nil {
			logger.Log.Error("Stuck-sync sweep failed", zap.Error(err))
			return
		}
		if result.CleanedUp > 0 {
			logger.Log.Info("Stuck-sync sweep recovered rows", zap.Int("cleanedUp", result.CleanedUp))
		}
	})
	if err != nil {
		logger.Log.Fatal("Failed to schedule stuck-sync sweep", zap.Error(err))
	}
	sweeper.Start()

	// Init API
	handler := api.NewHandler(manager, cfg.Server.AuthToken)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	scheduler.Stop()
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
