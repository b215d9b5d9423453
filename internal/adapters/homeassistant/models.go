package homeassistant

// HAConfig represents the Home Assistant instance configuration
type HAConfig struct {
	Version      string `json:"version"`
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
	State        string `json:"state"`
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged string                 `json:"last_changed"`
	LastUpdated string                 `json:"last_updated"`
}

// ServiceDomain describes the services registered under one domain,
// as returned by GET /api/services
type ServiceDomain struct {
	Domain   string                 `json:"domain"`
	Services map[string]interface{} `json:"services"`
}

// serviceCallEnvelope is the response shape of a service call made with
// return_response
type serviceCallEnvelope struct {
	ChangedStates   []EntityState `json:"changed_states"`
	ServiceResponse interface{}   `json:"service_response"`
}

// StateChangeEvent represents a state_changed event from the event bus
type StateChangeEvent struct {
	EntityID string
	OldState string
	NewState string
}
