/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables used to configure the bridge
	EnvPrefix = "AGENTMAIL_BRIDGE_"

	// DefaultURL is the AgentMail event stream endpoint
	DefaultURL = "wss://ws.agentmail.to/v0"
	// DefaultEventType is the only event type forwarded to the agent
	DefaultEventType = "message.received"
	// DefaultSessionKey routes notifications to the agent's main session
	DefaultSessionKey = "agent:main:main"
	// DefaultBindHost keeps the local HTTP servers off external interfaces
	DefaultBindHost = "127.0.0.1"
)

// WakeMode selects how the agent is nudged after a notification is queued
type WakeMode string

const (
	WakeModeInvokeTool WakeMode = "invoke-tool"
	WakeModeHookCall   WakeMode = "hook-call"
	WakeModeDisabled   WakeMode = "disabled"
)

// Queue types
const (
	QueueTypeSQLite = "sqlite"
	QueueTypeMemory = "memory"
)

// Config holds all configuration for the bridge
type Config struct {
	AgentMail       AgentMailConfig `koanf:"agentmail"`
	Wake            WakeConfig      `koanf:"wake"`
	Queue           QueueConfig     `koanf:"queue"`
	Logging         LoggingConfig   `koanf:"logging"`
	Metrics         MetricsConfig   `koanf:"metrics"`
	Admin           AdminConfig     `koanf:"admin"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
}

// AgentMailConfig holds the event stream subscription settings
type AgentMailConfig struct {
	APIKey           string        `koanf:"api_key"`           // Provider credential
	InboxID          string        `koanf:"inbox_id"`          // Inbox to subscribe to
	EventTypes       []string      `koanf:"event_types"`       // Subscribed event types; empty subscribes to all
	SessionKey       string        `koanf:"session_key"`       // Routing key passed to the task queue
	URL              string        `koanf:"url"`               // WebSocket endpoint
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"` // Upper bound for the opening handshake
	PingInterval     time.Duration `koanf:"ping_interval"`     // Keepalive ping interval (0 disables)
}

// WakeConfig holds the local gateway settings used to wake the agent
type WakeConfig struct {
	Mode           WakeMode      `koanf:"mode"`
	GatewayHost    string        `koanf:"gateway_host"`
	GatewayPort    int           `koanf:"gateway_port"`
	GatewayToken   string        `koanf:"gateway_token"` // Bearer token for /tools/invoke
	HooksToken     string        `koanf:"hooks_token"`   // Bearer token for /hooks/wake
	Timeout        time.Duration `koanf:"timeout"`
	FallbackToHook bool          `koanf:"fallback_to_hook"` // Try /hooks/wake when /tools/invoke fails
}

// QueueConfig selects the task queue backend
type QueueConfig struct {
	Type   string       `koanf:"type"` // "sqlite" or "memory"
	SQLite SQLiteConfig `koanf:"sqlite"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `koanf:"path"` // Path to SQLite database file
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" (default) or "text"
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"` // Bind address, loopback unless scraped remotely
	Port    int    `koanf:"port"`
}

// AdminConfig holds the local status API configuration. The API is
// unauthenticated and exposes queued mail metadata.
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// Addr returns the host:port the metrics server listens on
func (m MetricsConfig) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Addr returns the host:port the admin API listens on
func (a AdminConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// LoadConfig loads configuration from file, environment variables, and defaults
// Priority: Environment variables > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKeyMapper maps AGENTMAIL_BRIDGE_* variables onto koanf keys
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)

	switch s {
	case "api_key":
		return "agentmail.api_key"
	case "inbox_id":
		return "agentmail.inbox_id"
	case "gateway_token":
		return "wake.gateway_token"
	case "hooks_token":
		return "wake.hooks_token"
	default:
		// Double underscore is a literal "_", single underscore is a level separator
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		AgentMail: AgentMailConfig{
			EventTypes:       []string{DefaultEventType},
			SessionKey:       DefaultSessionKey,
			URL:              DefaultURL,
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Wake: WakeConfig{
			Mode:        WakeModeInvokeTool,
			GatewayHost: "127.0.0.1",
			GatewayPort: 18789,
			Timeout:     5 * time.Second,
		},
		Queue: QueueConfig{
			Type: QueueTypeSQLite,
			SQLite: SQLiteConfig{
				Path: "./data/agentmail-queue.db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    DefaultBindHost,
			Port:    9091,
		},
		Admin: AdminConfig{
			Enabled: false,
			Host:    DefaultBindHost,
			Port:    9095,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// HasCredentials reports whether the fields required to open a session are present.
// Their absence is a "do not start" condition rather than a validation error.
func (c *Config) HasCredentials() bool {
	return strings.TrimSpace(c.AgentMail.APIKey) != "" && strings.TrimSpace(c.AgentMail.InboxID) != ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateAgentMailConfig(); err != nil {
		return err
	}
	if err := c.validateWakeConfig(); err != nil {
		return err
	}
	if err := c.validateQueueConfig(); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if strings.TrimSpace(c.Metrics.Host) == "" {
			return fmt.Errorf("metrics.host is required when metrics are enabled")
		}
		if err := validatePort("metrics.port", c.Metrics.Port); err != nil {
			return err
		}
	}
	if c.Admin.Enabled {
		if strings.TrimSpace(c.Admin.Host) == "" {
			return fmt.Errorf("admin.host is required when the admin API is enabled")
		}
		if err := validatePort("admin.port", c.Admin.Port); err != nil {
			return err
		}
	}
	if c.Metrics.Enabled && c.Admin.Enabled && c.Metrics.Port == c.Admin.Port {
		return fmt.Errorf("metrics.port and admin.port must differ, both are %d", c.Metrics.Port)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got: %s", c.ShutdownTimeout)
	}

	return nil
}

func (c *Config) validateAgentMailConfig() error {
	am := c.AgentMail

	u, err := url.Parse(am.URL)
	if err != nil {
		return fmt.Errorf("agentmail.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("agentmail.url must use ws or wss scheme, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("agentmail.url must include a host")
	}

	for i, eventType := range am.EventTypes {
		if strings.TrimSpace(eventType) == "" {
			return fmt.Errorf("agentmail.event_types[%d] must not be empty", i)
		}
	}

	if strings.TrimSpace(am.SessionKey) == "" {
		return fmt.Errorf("agentmail.session_key is required")
	}

	if am.HandshakeTimeout <= 0 {
		return fmt.Errorf("agentmail.handshake_timeout must be positive, got: %s", am.HandshakeTimeout)
	}
	if am.PingInterval < 0 {
		return fmt.Errorf("agentmail.ping_interval must not be negative, got: %s", am.PingInterval)
	}

	return nil
}

func (c *Config) validateWakeConfig() error {
	switch c.Wake.Mode {
	case WakeModeInvokeTool, WakeModeHookCall, WakeModeDisabled:
	default:
		return fmt.Errorf("wake.mode must be one of %q, %q, %q, got: %q",
			WakeModeInvokeTool, WakeModeHookCall, WakeModeDisabled, c.Wake.Mode)
	}

	if c.Wake.Mode == WakeModeDisabled {
		return nil
	}

	if strings.TrimSpace(c.Wake.GatewayHost) == "" {
		return fmt.Errorf("wake.gateway_host is required when wake.mode is %q", c.Wake.Mode)
	}
	if err := validatePort("wake.gateway_port", c.Wake.GatewayPort); err != nil {
		return err
	}
	if c.Wake.Timeout <= 0 {
		return fmt.Errorf("wake.timeout must be positive, got: %s", c.Wake.Timeout)
	}

	return nil
}

func (c *Config) validateQueueConfig() error {
	switch c.Queue.Type {
	case QueueTypeMemory:
	case QueueTypeSQLite:
		if strings.TrimSpace(c.Queue.SQLite.Path) == "" {
			return fmt.Errorf("queue.sqlite.path is required when queue.type is %q", QueueTypeSQLite)
		}
	default:
		return fmt.Errorf("queue.type must be %q or %q, got: %q", QueueTypeSQLite, QueueTypeMemory, c.Queue.Type)
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got: %d", field, port)
	}
	return nil
}
