package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Update modes for a configured action.
const (
	UpdateModePolling      = "polling"       // cyclic refresh at scan_interval
	UpdateModeManual       = "manual"        // refresh only via the API
	UpdateModeStateTrigger = "state_trigger" // refresh on a watched entity's state change
)

// Defaults for configured actions.
const (
	DefaultScanIntervalSeconds = 300
	DefaultAttributeName       = "data"
	DefaultUpdateMode          = UpdateModePolling
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Database      DatabaseConfig      `mapstructure:"database"`
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Actions       []ActionConfig      `mapstructure:"actions"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
	RetentionDays  int    `mapstructure:"retention_days"`
}

type HomeAssistantConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// ActionConfig describes one configured action: which Home Assistant
// service to call, how its refresh is triggered, and how the response is
// extracted and published.
type ActionConfig struct {
	ID            string        `mapstructure:"id"`
	Name          string        `mapstructure:"name"`
	Action        string        `mapstructure:"action"`    // "domain.service"
	DataYAML      string        `mapstructure:"data_yaml"` // service data as YAML
	UpdateMode    string        `mapstructure:"update_mode"`
	ScanInterval  int           `mapstructure:"scan_interval"` // seconds, polling mode
	ResponsePath  string        `mapstructure:"response_path"`
	AttributeName string        `mapstructure:"attribute_name"`
	TargetEntity  string        `mapstructure:"target_entity"` // entity published back to HA
	Trigger       TriggerConfig `mapstructure:"trigger"`
}

// TriggerConfig narrows which state changes fire a state_trigger action.
// Empty From/To match any state.
type TriggerConfig struct {
	Entity string `mapstructure:"entity"`
	From   string `mapstructure:"from"`
	To     string `mapstructure:"to"`
}

// ServiceInfo splits the configured action into domain and service name.
func (a ActionConfig) ServiceInfo() (string, string, error) {
	parts := strings.SplitN(a.Action, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("action %q must be in domain.service form", a.Action)
	}
	return parts[0], parts[1], nil
}

// ServiceData parses the configured YAML service data. A blank or non-map
// document yields an empty map rather than an error.
func (a ActionConfig) ServiceData() (map[string]interface{}, error) {
	if strings.TrimSpace(a.DataYAML) == "" {
		return map[string]interface{}{}, nil
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(a.DataYAML), &parsed); err != nil {
		return nil, fmt.Errorf("invalid service data YAML: %w", err)
	}
	data, ok := parsed.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return data, nil
}

// Load reads config.yaml and environment overrides.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	viper.BindEnv("home_assistant.url", "HOME_ASSISTANT_URL")
	viper.BindEnv("home_assistant.token", "HOME_ASSISTANT_TOKEN")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyActionDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3002)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("database.path", "./data/bridge.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.retention_days", 30)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prefix", "action_result")
}

func applyActionDefaults(cfg *Config) {
	for i := range cfg.Actions {
		action := &cfg.Actions[i]
		if action.UpdateMode == "" {
			action.UpdateMode = DefaultUpdateMode
		}
		if action.ScanInterval <= 0 {
			action.ScanInterval = DefaultScanIntervalSeconds
		}
		if action.AttributeName == "" {
			action.AttributeName = DefaultAttributeName
		}
		if action.Name == "" {
			action.Name = action.ID
		}
		if action.TargetEntity == "" {
			action.TargetEntity = "sensor." + action.ID
		}
	}
}

// Validate checks structural configuration errors before startup.
func (c *Config) Validate() error {
	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("home_assistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	seen := make(map[string]bool)
	for _, action := range c.Actions {
		if action.ID == "" {
			return fmt.Errorf("every action needs an id")
		}
		if seen[action.ID] {
			return fmt.Errorf("duplicate action id %q", action.ID)
		}
		seen[action.ID] = true

		if _, _, err := action.ServiceInfo(); err != nil {
			return fmt.Errorf("action %q: %w", action.ID, err)
		}
		if _, err := action.ServiceData(); err != nil {
			return fmt.Errorf("action %q: %w", action.ID, err)
		}

		switch action.UpdateMode {
		case UpdateModePolling, UpdateModeManual, UpdateModeStateTrigger:
		default:
			return fmt.Errorf("action %q: unknown update_mode %q", action.ID, action.UpdateMode)
		}
		if action.UpdateMode == UpdateModeStateTrigger && action.Trigger.Entity == "" {
			return fmt.Errorf("action %q: state_trigger mode requires trigger.entity", action.ID)
		}
	}
	return nil
}
