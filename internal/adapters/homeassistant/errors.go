package homeassistant

import (
	"fmt"
	"net/http"
)

// HAError represents a Home Assistant-specific error. Its message text is
// what the retry classifier matches against, so the predefined messages
// deliberately carry the classification keywords.
type HAError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *HAError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("HA Error %d: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("HA Error %d: %s", e.Code, e.Message)
}

// Predefined error types
var (
	ErrUnauthorized = &HAError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized access to Home Assistant",
	}
	ErrNotFound = &HAError{
		Code:    http.StatusNotFound,
		Message: "Resource not found",
	}
	ErrRateLimited = &HAError{
		Code:    http.StatusTooManyRequests,
		Message: "Rate limited by Home Assistant, too many requests",
	}
	ErrInvalidResponse = &HAError{
		Code:    0,
		Message: "Invalid response from Home Assistant",
	}
	ErrInvalidURL = &HAError{
		Code:    0,
		Message: "Invalid Home Assistant URL",
	}
	ErrMissingToken = &HAError{
		Code:    0,
		Message: "Home Assistant access token not configured",
	}
	ErrWebSocketNotConnected = &HAError{
		Code:    0,
		Message: "WebSocket connection not established",
	}
)

// NewHAError creates a new HAError with custom details
func NewHAError(code int, message string, details map[string]interface{}) *HAError {
	return &HAError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsAuthError checks if the error is an authentication error
func IsAuthError(err error) bool {
	if haErr, ok := err.(*HAError); ok {
		return haErr.Code == http.StatusUnauthorized
	}
	return false
}
