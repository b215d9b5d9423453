package homeassistant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/sirupsen/logrus"
)

// Client represents the main Home Assistant client. It implements the
// coordinator's ServiceCaller contract and exposes state publishing plus
// the state change event stream.
type Client struct {
	rest      RESTClient
	websocket WebSocketClient
	logger    *logrus.Logger
	config    *config.Config

	baseURL string
	token   string
	mu      sync.RWMutex
}

// NewClient creates a new Home Assistant client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("invalid parameters")
	}

	return &Client{
		logger: logger,
		config: cfg,
	}, nil
}

// Initialize sets up the REST and websocket clients and verifies
// connectivity
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Initializing Home Assistant client")

	baseURL := c.config.HomeAssistant.URL
	if baseURL == "" {
		return ErrInvalidURL
	}
	c.baseURL = strings.TrimSuffix(baseURL, "/")

	token := c.config.HomeAssistant.Token
	if token == "" {
		return ErrMissingToken
	}
	c.token = token

	c.rest = NewRESTClient(c.baseURL, c.token, c.logger)
	c.websocket = NewWebSocketClient(c.baseURL, c.token, c.logger)

	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	c.logger.Info("Home Assistant client initialized")
	return nil
}

// StartEventStream connects the websocket and begins streaming state
// change events. Only needed when state_trigger actions are configured.
func (c *Client) StartEventStream(ctx context.Context) error {
	if c.websocket == nil {
		return ErrWebSocketNotConnected
	}
	return c.websocket.Start(ctx)
}

// Shutdown shuts down the client
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.websocket != nil {
		c.websocket.Stop()
	}
}

// HealthCheck verifies connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.rest == nil {
		return fmt.Errorf("REST client not initialized")
	}

	haConfig, err := c.rest.GetConfig(ctx)
	if err != nil {
		return err
	}

	c.logger.WithField("version", haConfig.Version).Debug("Health check passed")
	return nil
}

// HasService reports whether domain.service is registered. This is the
// structural-absence check the coordinator runs before each call.
func (c *Client) HasService(ctx context.Context, domain, service string) (bool, error) {
	if c.rest == nil {
		return false, fmt.Errorf("client not initialized")
	}

	domains, err := c.rest.GetServices(ctx)
	if err != nil {
		return false, err
	}

	for _, d := range domains {
		if d.Domain != domain {
			continue
		}
		_, ok := d.Services[service]
		return ok, nil
	}
	return false, nil
}

// CallServiceWithResponse calls a service and returns its response payload
func (c *Client) CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]interface{}) (interface{}, error) {
	if c.rest == nil {
		return nil, fmt.Errorf("client not initialized")
	}
	return c.rest.CallServiceWithResponse(ctx, domain, service, data)
}

// GetState retrieves an entity state
func (c *Client) GetState(ctx context.Context, entityID string) (*EntityState, error) {
	if c.rest == nil {
		return nil, fmt.Errorf("client not initialized")
	}
	return c.rest.GetState(ctx, entityID)
}

// SetState publishes an entity state with attributes
func (c *Client) SetState(ctx context.Context, entityID string, state string, attributes map[string]interface{}) error {
	if c.rest == nil {
		return fmt.Errorf("client not initialized")
	}
	return c.rest.SetState(ctx, entityID, state, attributes)
}

// Events returns the state change event stream. Nil before Initialize.
func (c *Client) Events() <-chan StateChangeEvent {
	if c.websocket == nil {
		return nil
	}
	return c.websocket.Events()
}

// IsEventStreamConnected reports websocket connectivity
func (c *Client) IsEventStreamConnected() bool {
	if c.websocket == nil {
		return false
	}
	return c.websocket.IsConnected()
}

// GetConnectionInfo summarizes client connectivity for diagnostics
func (c *Client) GetConnectionInfo() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"base_url":            c.baseURL,
		"has_token":           c.token != "",
		"rest_available":      c.rest != nil,
		"websocket_connected": c.IsEventStreamConnected(),
	}
}
