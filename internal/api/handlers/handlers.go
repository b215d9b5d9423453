package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/frostdev-ops/action-result-bridge/internal/core/actions"
	"github.com/frostdev-ops/action-result-bridge/internal/core/bridge"
	"github.com/frostdev-ops/action-result-bridge/internal/database"
	"github.com/frostdev-ops/action-result-bridge/pkg/utils"
)

// HomeAssistantInfo is the diagnostic surface of the Home Assistant client
type HomeAssistantInfo interface {
	HealthCheck(ctx context.Context) error
	GetConnectionInfo() map[string]interface{}
}

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	cfg     *config.Config
	manager *bridge.Manager
	results database.ResultRepository
	ha      HomeAssistantInfo
	logger  *logrus.Logger
	started time.Time
}

// NewHandlers creates the handler set
func NewHandlers(cfg *config.Config, manager *bridge.Manager, results database.ResultRepository, ha HomeAssistantInfo, logger *logrus.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		manager: manager,
		results: results,
		ha:      ha,
		logger:  logger,
		started: time.Now(),
	}
}

// Health returns service health including Home Assistant connectivity
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	haStatus := "connected"
	if err := h.ha.HealthCheck(c.Request.Context()); err != nil {
		status = "degraded"
		haStatus = "disconnected"
		h.logger.WithError(err).Warn("Home Assistant health check failed")
	}

	utils.SendSuccess(c, gin.H{
		"status":         status,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"home_assistant": gin.H{
			"status":     haStatus,
			"connection": h.ha.GetConnectionInfo(),
		},
		"actions": len(h.cfg.Actions),
	})
}

// GetActions lists every configured action with its retry state
func (h *Handlers) GetActions(c *gin.Context) {
	utils.SendSuccess(c, h.manager.ActionStatuses())
}

// GetAction returns one configured action with its retry state
func (h *Handlers) GetAction(c *gin.Context) {
	status, err := h.manager.ActionStatus(c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusNotFound, "Action not found")
		return
	}
	utils.SendSuccess(c, status)
}

// RefreshAction triggers an immediate call for one action. A refresh
// already in flight is reported as a conflict rather than starting a
// second call.
func (h *Handlers) RefreshAction(c *gin.Context) {
	actionID := c.Param("id")

	result, err := h.manager.Refresh(c.Request.Context(), actionID)
	switch {
	case err == nil:
		utils.SendSuccess(c, result)
	case err == bridge.ErrActionNotFound:
		utils.SendError(c, http.StatusNotFound, "Action not found")
	case err == actions.ErrRefreshInFlight:
		utils.SendError(c, http.StatusConflict, "Refresh already in progress")
	case err == actions.ErrCoordinatorStopped:
		utils.SendError(c, http.StatusServiceUnavailable, "Action is shutting down")
	default:
		h.logger.WithError(err).WithField("action_id", actionID).Error("Refresh failed")
		utils.SendError(c, http.StatusInternalServerError, "Failed to refresh action")
	}
}

// GetActionResults returns recent call results for one action
func (h *Handlers) GetActionResults(c *gin.Context) {
	actionID := c.Param("id")
	if !h.manager.HasAction(actionID) {
		utils.SendError(c, http.StatusNotFound, "Action not found")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			utils.SendError(c, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	results, err := h.results.ListByAction(c.Request.Context(), actionID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("action_id", actionID).Error("Failed to list results")
		utils.SendError(c, http.StatusInternalServerError, "Failed to list results")
		return
	}

	utils.SendSuccessWithMeta(c, results, gin.H{"count": len(results), "limit": limit})
}
