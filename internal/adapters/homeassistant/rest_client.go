package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RESTClient interface defines REST API operations
type RESTClient interface {
	GetConfig(ctx context.Context) (*HAConfig, error)
	GetState(ctx context.Context, entityID string) (*EntityState, error)
	SetState(ctx context.Context, entityID string, state string, attributes map[string]interface{}) error
	GetServices(ctx context.Context) ([]ServiceDomain, error)
	CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]interface{}) (interface{}, error)

	// Raw API call for extensibility
	DoRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error)
}

// restClient implements RESTClient
type restClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewRESTClient creates a new REST client. Unlike a general-purpose API
// client it performs no internal retries: retry policy belongs to the
// action coordinator, which classifies the error text this client returns.
func NewRESTClient(baseURL, token string, logger *logrus.Logger) RESTClient {
	return &restClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 35 * time.Second,
		},
		logger: logger,
	}
}

// GetConfig retrieves Home Assistant configuration
func (c *restClient) GetConfig(ctx context.Context) (*HAConfig, error) {
	data, err := c.DoRequest(ctx, "GET", "/api/config", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	var config HAConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewHAError(0, "Failed to parse config response", map[string]interface{}{
			"error": err.Error(),
		})
	}

	c.logger.WithFields(logrus.Fields{
		"version":  config.Version,
		"location": config.LocationName,
	}).Debug("Retrieved Home Assistant configuration")

	return &config, nil
}

// GetState retrieves a specific entity state
func (c *restClient) GetState(ctx context.Context, entityID string) (*EntityState, error) {
	path := fmt.Sprintf("/api/states/%s", url.PathEscape(entityID))
	data, err := c.DoRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for entity %s: %w", entityID, err)
	}

	var state EntityState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, NewHAError(0, "Failed to parse state response", map[string]interface{}{
			"entity_id": entityID,
			"error":     err.Error(),
		})
	}
	return &state, nil
}

// SetState publishes an entity state with attributes
func (c *restClient) SetState(ctx context.Context, entityID string, state string, attributes map[string]interface{}) error {
	body := map[string]interface{}{
		"state": state,
	}
	if attributes != nil {
		body["attributes"] = attributes
	}

	path := fmt.Sprintf("/api/states/%s", url.PathEscape(entityID))
	if _, err := c.DoRequest(ctx, "POST", path, body); err != nil {
		return fmt.Errorf("failed to set state for entity %s: %w", entityID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"state":     state,
	}).Debug("Published entity state")

	return nil
}

// GetServices retrieves the registered service domains
func (c *restClient) GetServices(ctx context.Context) ([]ServiceDomain, error) {
	data, err := c.DoRequest(ctx, "GET", "/api/services", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	var domains []ServiceDomain
	if err := json.Unmarshal(data, &domains); err != nil {
		return nil, NewHAError(0, "Failed to parse services response", map[string]interface{}{
			"error": err.Error(),
		})
	}

	c.logger.WithField("count", len(domains)).Debug("Retrieved service domains")
	return domains, nil
}

// CallServiceWithResponse calls a Home Assistant service and returns the
// service_response payload
func (c *restClient) CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]interface{}) (interface{}, error) {
	c.logger.WithFields(logrus.Fields{
		"domain":  domain,
		"service": service,
	}).Debug("Calling Home Assistant service")

	path := fmt.Sprintf("/api/services/%s/%s?return_response", url.PathEscape(domain), url.PathEscape(service))

	body := make(map[string]interface{})
	for k, v := range data {
		body[k] = v
	}

	raw, err := c.DoRequest(ctx, "POST", path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to call service %s.%s: %w", domain, service, err)
	}

	var envelope serviceCallEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, NewHAError(0, "Failed to parse service response", map[string]interface{}{
			"domain":  domain,
			"service": service,
			"error":   err.Error(),
		})
	}

	return envelope.ServiceResponse, nil
}

// DoRequest performs a raw HTTP request and maps error status codes onto
// HAError values whose text the classifier understands
func (c *restClient) DoRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, NewHAError(0, "Failed to marshal request body", map[string]interface{}{
				"error": err.Error(),
			})
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, NewHAError(0, "Failed to create request", map[string]interface{}{
			"error": err.Error(),
			"url":   reqURL,
		})
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    reqURL,
	}).Debug("Making HTTP request to Home Assistant")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection and timeout failures keep their original text so the
		// classifier sees "connection refused", "context deadline
		// exceeded" and the like.
		return nil, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewHAError(0, "Failed to read response body", map[string]interface{}{
			"error":       err.Error(),
			"status_code": resp.StatusCode,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"method":      method,
		"url":         reqURL,
	}).Debug("Received HTTP response from Home Assistant")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return responseBody, nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		if resp.StatusCode >= 500 {
			return nil, NewHAError(resp.StatusCode, "Server error", map[string]interface{}{
				"response": string(responseBody),
			})
		}
		return nil, NewHAError(resp.StatusCode, "Invalid request", map[string]interface{}{
			"response": string(responseBody),
		})
	}
}
