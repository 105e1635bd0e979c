package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the web-boiler bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Portal    PortalConfig    `yaml:"portal"`
	Stomp     StompConfig     `yaml:"stomp"`
	Session   SessionConfig   `yaml:"session"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PortalConfig contains the vendor web portal settings.
type PortalConfig struct {
	// Webroot is the portal base URL, without a trailing slash.
	Webroot  string `yaml:"webroot"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds every HTTP request to the portal (seconds).
	Timeout int `yaml:"timeout"`
}

// StompConfig contains the live feed (STOMP over WebSocket) settings.
type StompConfig struct {
	URL      string `yaml:"url"`
	Login    string `yaml:"login"`
	Passcode string `yaml:"passcode"`
	Host     string `yaml:"host"`

	// DeviceTopic is the destination prefix for per-device topics.
	DeviceTopic string `yaml:"device_topic"`

	// NotificationDestination is the queue carrying account notifications.
	NotificationDestination string `yaml:"notification_destination"`

	// PerTypeTopics selects "<prefix><type>.<serial>" destinations.
	// When false, destinations are "<prefix><serial>".
	PerTypeTopics bool `yaml:"per_type_topics"`

	DeviceSubscriptionID       string `yaml:"device_subscription_id"`
	NotificationSubscriptionID string `yaml:"notification_subscription_id"`

	Heartbeat StompHeartbeatConfig `yaml:"heartbeat"`

	// HandshakeTimeout bounds dial plus the wait for CONNECTED (seconds).
	HandshakeTimeout int `yaml:"handshake_timeout"`
}

// StompHeartbeatConfig is the heart-beat pair offered in CONNECT (milliseconds).
type StompHeartbeatConfig struct {
	Send   int `yaml:"send"`
	Expect int `yaml:"expect"`
}

// SessionConfig contains session controller behaviour.
type SessionConfig struct {
	AutoReconnect    bool `yaml:"auto_reconnect"`
	RefreshOnConnect bool `yaml:"refresh_on_connect"`

	// RefreshDelay is the pause between refresh steps (seconds).
	RefreshDelay int `yaml:"refresh_delay"`

	// ReloginInterval forces a relogin and feed restart (minutes). 0 disables it.
	ReloginInterval int `yaml:"relogin_interval"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains the live feed reconnection policy.
type ReconnectConfig struct {
	InitialDelay int     `yaml:"initial_delay"` // seconds
	MaxDelay     int     `yaml:"max_delay"`     // seconds
	Multiplier   float64 `yaml:"multiplier"`
	Jitter       float64 `yaml:"jitter"` // fraction of the delay, 0..1
	MaxAttempts  int     `yaml:"max_attempts"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the API push endpoint.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WEBBOILER_SECTION_KEY
// For example: WEBBOILER_USERNAME, WEBBOILER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file exists; it is not validated.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with the vendor's public endpoints and sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			Webroot: "https://www.web-boiler.com",
			Timeout: 30,
		},
		Stomp: StompConfig{
			URL:                        "wss://web-boiler.com:15671/ws",
			Login:                      "appuser",
			Passcode:                   "appuser",
			Host:                       "/",
			DeviceTopic:                "/topic/cm.inst.",
			NotificationDestination:    "/queue/notification",
			PerTypeTopics:              true,
			DeviceSubscriptionID:       "sub-1",
			NotificationSubscriptionID: "sub-0",
			Heartbeat: StompHeartbeatConfig{
				Send:   10000,
				Expect: 10000,
			},
			HandshakeTimeout: 15,
		},
		Session: SessionConfig{
			AutoReconnect:    true,
			RefreshOnConnect: true,
			RefreshDelay:     2,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     120,
				Multiplier:   1.5,
				Jitter:       0.2,
				MaxAttempts:  0,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "webboiler-bridge",
			},
			QoS:         1,
			TopicPrefix: "webboiler",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "webboiler",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8089,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WEBBOILER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Portal credentials
	if v := os.Getenv("WEBBOILER_USERNAME"); v != "" {
		cfg.Portal.Username = v
	}
	if v := os.Getenv("WEBBOILER_PASSWORD"); v != "" {
		cfg.Portal.Password = v
	}
	if v := os.Getenv("WEBBOILER_WEBROOT"); v != "" {
		cfg.Portal.Webroot = v
	}

	// Live feed
	if v := os.Getenv("WEBBOILER_STOMP_URL"); v != "" {
		cfg.Stomp.URL = v
	}

	// MQTT
	if v := os.Getenv("WEBBOILER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WEBBOILER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WEBBOILER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("WEBBOILER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Portal validation
	if c.Portal.Webroot == "" {
		errs = append(errs, "portal.webroot is required")
	}
	if c.Portal.Username == "" || c.Portal.Password == "" {
		errs = append(errs, "portal.username and portal.password are required (set WEBBOILER_USERNAME / WEBBOILER_PASSWORD)")
	}

	// Live feed validation
	if u, err := url.Parse(c.Stomp.URL); err != nil || (u.Scheme != "wss" && u.Scheme != "ws") {
		errs = append(errs, "stomp.url must be a ws:// or wss:// URL")
	}
	if c.Stomp.DeviceTopic == "" {
		errs = append(errs, "stomp.device_topic is required")
	}
	if c.Stomp.DeviceSubscriptionID == "" || c.Stomp.NotificationSubscriptionID == "" {
		errs = append(errs, "stomp subscription ids are required")
	} else if c.Stomp.DeviceSubscriptionID == c.Stomp.NotificationSubscriptionID {
		errs = append(errs, "stomp.device_subscription_id and stomp.notification_subscription_id must differ")
	}
	if c.Stomp.Heartbeat.Send < 0 || c.Stomp.Heartbeat.Expect < 0 {
		errs = append(errs, "stomp.heartbeat values must not be negative")
	}

	// Session validation
	if c.Session.RefreshDelay < 0 {
		errs = append(errs, "session.refresh_delay must not be negative")
	}
	if c.Session.Reconnect.Jitter < 0 || c.Session.Reconnect.Jitter > 1 {
		errs = append(errs, "session.reconnect.jitter must be between 0 and 1")
	}
	if c.Session.Reconnect.Multiplier != 0 && c.Session.Reconnect.Multiplier < 1 {
		errs = append(errs, "session.reconnect.multiplier must be at least 1")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPortalTimeout returns the portal HTTP timeout as a Duration.
func (c *Config) GetPortalTimeout() time.Duration {
	return time.Duration(c.Portal.Timeout) * time.Second
}

// GetRefreshDelay returns the pause between refresh steps as a Duration.
func (c *Config) GetRefreshDelay() time.Duration {
	return time.Duration(c.Session.RefreshDelay) * time.Second
}

// GetReloginInterval returns the forced relogin interval as a Duration.
func (c *Config) GetReloginInterval() time.Duration {
	return time.Duration(c.Session.ReloginInterval) * time.Minute
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
