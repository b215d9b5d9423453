package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/action-result-bridge/internal/adapters/homeassistant"
	"github.com/frostdev-ops/action-result-bridge/internal/api"
	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/frostdev-ops/action-result-bridge/internal/core/bridge"
	"github.com/frostdev-ops/action-result-bridge/internal/database"
	"github.com/frostdev-ops/action-result-bridge/internal/metrics"
	"github.com/frostdev-ops/action-result-bridge/pkg/logger"
)

func main() {
	log := logger.New("info", "json")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	log = logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	results := database.NewResultRepository(db)

	// Initialize Home Assistant client
	haClient, err := homeassistant.NewClient(cfg, log)
	if err != nil {
		log.Fatal("Failed to create Home Assistant client: ", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := haClient.Initialize(initCtx); err != nil {
		cancelInit()
		log.Fatal("Failed to initialize Home Assistant client: ", err)
	}
	cancelInit()
	defer haClient.Shutdown()

	// Metrics
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Prefix)
	}

	// Bridge manager owns the per-action coordinators
	manager, err := bridge.NewManager(cfg, haClient, results, collector, log)
	if err != nil {
		log.Fatal("Failed to create bridge manager: ", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		log.Fatal("Failed to start bridge manager: ", err)
	}

	// HTTP server
	router := api.NewRouter(cfg, manager, results, haClient, collector, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Starting action result bridge on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}
