package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Carousel Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Driver    DriverConfig    `yaml:"driver"`
	Generator GeneratorConfig `yaml:"generator"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServiceConfig contains instance-level identification.
type ServiceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the event bus.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for the metrics sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DriverConfig contains settings for the remote device-automation agent.
type DriverConfig struct {
	// Endpoint is the base URL of the automation agent's HTTP API.
	Endpoint string `yaml:"endpoint"`

	// SessionTimeout bounds session open/close calls.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// CommandTimeout bounds individual upload/delete calls.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MaxRetries is the per-item retry bound for failed upload/delete attempts.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the base delay between retries; doubled per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Agent configures optional supervision of a locally-run agent process.
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig contains settings for managing the automation agent process.
type AgentConfig struct {
	// Managed indicates whether Carousel Core should manage the agent lifecycle.
	// If false, the agent is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the agent executable.
	Binary string `yaml:"binary"`

	// Args are additional command-line arguments passed to the agent.
	Args []string `yaml:"args"`

	// Port is the TCP port the agent listens on; used for readiness polling.
	Port int `yaml:"port"`

	// RestartOnFailure enables automatic restart if the agent exits.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// GeneratorConfig contains settings for the caption generation service.
type GeneratorConfig struct {
	// Endpoint is the base URL of the caption generator. Empty disables
	// remote generation; fallback captions are used for every upload.
	Endpoint string `yaml:"endpoint"`

	// Timeout is the latency budget for a single generation call.
	Timeout time.Duration `yaml:"timeout"`

	// HashtagCount is how many hashtags a generated caption should carry.
	HashtagCount int `yaml:"hashtag_count"`
}

// SchedulerConfig contains dispatcher settings and carousel defaults.
type SchedulerConfig struct {
	// PollInterval is how often the dispatcher scans for due runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxConcurrentTicks bounds how many runs may execute device-bound
	// work at the same time.
	MaxConcurrentTicks int `yaml:"max_concurrent_ticks"`

	// Defaults applied to newly created carousels when unset.
	Defaults CarouselDefaults `yaml:"defaults"`
}

// CarouselDefaults holds operator-overridable carousel defaults.
type CarouselDefaults struct {
	ItemsPerCycle  int `yaml:"items_per_cycle"`
	WaitMinMinutes int `yaml:"wait_min_minutes"`
	WaitMaxMinutes int `yaml:"wait_max_minutes"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CAROUSEL_SECTION_KEY
// For example: CAROUSEL_DATABASE_PATH, CAROUSEL_DRIVER_ENDPOINT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:       "carousel-001",
			Name:     "Carousel Core",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/carousel.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "carousel-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Driver: DriverConfig{
			Endpoint:       "http://localhost:4723",
			SessionTimeout: 30 * time.Second,
			CommandTimeout: 90 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   2 * time.Second,
			Agent: AgentConfig{
				Port:                4723,
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		Generator: GeneratorConfig{
			Timeout:      10 * time.Second,
			HashtagCount: 20,
		},
		Scheduler: SchedulerConfig{
			PollInterval:       15 * time.Second,
			MaxConcurrentTicks: 4,
			Defaults: CarouselDefaults{
				ItemsPerCycle:  6,
				WaitMinMinutes: 40,
				WaitMaxMinutes: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CAROUSEL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAROUSEL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CAROUSEL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CAROUSEL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("CAROUSEL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CAROUSEL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CAROUSEL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CAROUSEL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("CAROUSEL_DRIVER_ENDPOINT"); v != "" {
		cfg.Driver.Endpoint = v
	}
	if v := os.Getenv("CAROUSEL_GENERATOR_ENDPOINT"); v != "" {
		cfg.Generator.Endpoint = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Driver.Endpoint == "" {
		errs = append(errs, "driver.endpoint is required")
	}
	if c.Driver.MaxRetries < 0 {
		errs = append(errs, "driver.max_retries must not be negative")
	}

	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, "scheduler.poll_interval must be positive")
	}
	if c.Scheduler.MaxConcurrentTicks < 1 {
		errs = append(errs, "scheduler.max_concurrent_ticks must be at least 1")
	}
	switch d := c.Scheduler.Defaults; {
	case d.ItemsPerCycle < 1:
		errs = append(errs, "scheduler.defaults.items_per_cycle must be at least 1")
	case d.WaitMinMinutes < 0 || d.WaitMaxMinutes < d.WaitMinMinutes:
		errs = append(errs, "scheduler.defaults wait window must satisfy 0 <= min <= max")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
