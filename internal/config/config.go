// Package config provides configuration for the control plane.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. CONTROLPLANE_HTTP_PORT.
const Prefix = "CONTROLPLANE"

// Config holds the control plane configuration.
type Config struct {
	// Server settings
	HTTPPort     int `envconfig:"HTTP_PORT" default:"8080"`
	InternalPort int `envconfig:"INTERNAL_PORT" default:"8081"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:controlplane.db?mode=rwc&_busy_timeout=5000&_journal_mode=WAL"`

	// Agent registry seed file, reloaded on change.
	AgentsFile string `envconfig:"AGENTS_FILE"`

	// Runs
	MaxRunningAgents   int           `envconfig:"MAX_RUNNING_AGENTS" default:"5"`
	AgentSignalTimeout time.Duration `envconfig:"AGENT_SIGNAL_TIMEOUT" default:"10s"`

	// Verification
	VerificationWindow time.Duration `envconfig:"VERIFICATION_WINDOW" default:"60s"`

	// Events
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s"`
	SubscriberBuffer  int           `envconfig:"SUBSCRIBER_BUFFER" default:"32"`

	// Telemetry; 0 keeps the full history.
	HistoryRetention int `envconfig:"HISTORY_RETENTION" default:"0"`

	// Operators
	DefaultOperatorRole string `envconfig:"DEFAULT_OPERATOR_ROLE" default:"admin"`
	PolicyFile          string `envconfig:"POLICY_FILE"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.InternalPort <= 0 {
		return fmt.Errorf("invalid ports: http=%d internal=%d", c.HTTPPort, c.InternalPort)
	}
	if c.HTTPPort == c.InternalPort {
		return fmt.Errorf("http and internal port must differ (%d)", c.HTTPPort)
	}
	if c.VerificationWindow <= 0 {
		return fmt.Errorf("verification window must be positive, got %s", c.VerificationWindow)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.MaxRunningAgents < 0 || c.HistoryRetention < 0 || c.SubscriberBuffer < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// Default returns the configuration with every default applied and no
// environment overrides. Used by tests.
func Default() *Config {
	return &Config{
		HTTPPort:            8080,
		InternalPort:        8081,
		DatabaseURL:         ":memory:",
		MaxRunningAgents:    5,
		AgentSignalTimeout:  10 * time.Second,
		VerificationWindow:  60 * time.Second,
		HeartbeatInterval:   15 * time.Second,
		SubscriberBuffer:    32,
		DefaultOperatorRole: "admin",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}
