package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/action-result-bridge/internal/api/handlers"
	"github.com/frostdev-ops/action-result-bridge/internal/api/middleware"
	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/frostdev-ops/action-result-bridge/internal/core/bridge"
	"github.com/frostdev-ops/action-result-bridge/internal/database"
	"github.com/frostdev-ops/action-result-bridge/internal/metrics"
)

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, manager *bridge.Manager, results database.ResultRepository, ha handlers.HomeAssistantInfo, collector *metrics.Collector, logger *logrus.Logger) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.CORSMiddleware())
	if collector != nil {
		router.Use(middleware.MetricsMiddleware(collector))
	}

	h := handlers.NewHandlers(cfg, manager, results, ha, logger)

	// Public routes
	router.GET("/health", h.Health)
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API v1 routes
	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	{
		actions := api.Group("/actions")
		{
			actions.GET("", h.GetActions)
			actions.GET("/:id", h.GetAction)
			actions.POST("/:id/refresh", h.RefreshAction)
			actions.GET("/:id/results", h.GetActionResults)
		}

		system := api.Group("/system")
		{
			system.GET("/status", h.SystemStatus)
		}
	}

	return router
}
