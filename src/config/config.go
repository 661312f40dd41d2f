package config

import (
	"fmt"
	"os"
	"strings"

	"stock-stream/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to any zero-valued setting.
const (
	DefaultName     = "stock-stream"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 3001
	DefaultLogLevel = "INFO"
	DefaultGrpcPort = 50051

	DefaultFinnhubWsURL   = "wss://ws.finnhub.io"
	DefaultFinnhubRestURL = "https://finnhub.io/api/v1"

	DefaultCircuitThreshold         = 3
	DefaultCircuitResetSeconds      = 300
	DefaultCooldownSeconds          = 15
	DefaultRateLimitCooldownSeconds = 30
	DefaultRateWindowSeconds        = 300
	DefaultRateMaxAttempts          = 20
	DefaultRateBlockSeconds         = 60

	DefaultReconnectBaseMs            = 3000
	DefaultReconnectCapMs             = 300000
	DefaultMaxReconnectAttempts       = 5
	DefaultSubscribeIntervalMs        = 100
	DefaultPollIntervalMs             = 5000
	DefaultClosedMarketPollIntervalMs = 60000
	DefaultFallbackAfterAttempts      = 2

	DefaultConsumerServerURL     = "http://127.0.0.1:3001"
	DefaultConsumerMinInterval   = 30
	DefaultConsumerErrorCooldown = 60
	DefaultConsumerMaxFailures   = 10
	DefaultConsumerPollInterval  = 15

	DefaultDBType        = "sqlite"
	DefaultDBPath        = "stock-stream.db"
	DefaultRetentionDays = 7
	DefaultFlushSeconds  = 2

	DefaultRequestTimeout     = 10
	DefaultMaxRetries         = 2
	DefaultConcurrentRequests = 5
	DefaultUserAgent          = "stock-stream/1.0"

	// TokenEnvVar overrides finnhub.token when set.
	TokenEnvVar = "FINNHUB_TOKEN"
)

// DefaultCorsOrigins are the local dashboard origins.
var DefaultCorsOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads the YAML file at configPath (defaults only when empty),
// applies environment overrides and validates the result.
func NewConfig(configPath string) (*Config, error) {
	var modelConfig models.MConfig

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &modelConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Default returns a configuration with every default applied.
func Default() *Config {
	config := &Config{MConfig: &models.MConfig{}}
	config.applyDefaults()
	return config
}

// -----------------------------------------------------------------------------

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file '%s': %w", f, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	setString(&c.Name, DefaultName)
	setString(&c.Host, DefaultHost)
	setInt(&c.Port, DefaultPort)
	setString(&c.LogLevel, DefaultLogLevel)
	setString(&c.GrpcHost, DefaultHost)
	setInt(&c.GrpcPort, DefaultGrpcPort)
	if len(c.CorsAllowedOrigins) == 0 {
		c.CorsAllowedOrigins = append([]string(nil), DefaultCorsOrigins...)
	}

	setString(&c.Finnhub.WsURL, DefaultFinnhubWsURL)
	setString(&c.Finnhub.RestURL, DefaultFinnhubRestURL)

	co := &c.Coordinator
	setInt(&co.CircuitThreshold, DefaultCircuitThreshold)
	setInt(&co.CircuitResetSeconds, DefaultCircuitResetSeconds)
	setInt(&co.CooldownSeconds, DefaultCooldownSeconds)
	setInt(&co.RateLimitCooldownSeconds, DefaultRateLimitCooldownSeconds)
	setInt(&co.RateWindowSeconds, DefaultRateWindowSeconds)
	setInt(&co.RateMaxAttempts, DefaultRateMaxAttempts)
	setInt(&co.RateBlockSeconds, DefaultRateBlockSeconds)

	f := &c.Feed
	setInt(&f.ReconnectBaseMs, DefaultReconnectBaseMs)
	setInt(&f.ReconnectCapMs, DefaultReconnectCapMs)
	setInt(&f.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	setInt(&f.SubscribeIntervalMs, DefaultSubscribeIntervalMs)
	setInt(&f.PollIntervalMs, DefaultPollIntervalMs)
	setInt(&f.ClosedMarketPollIntervalMs, DefaultClosedMarketPollIntervalMs)
	setInt(&f.FallbackAfterAttempts, DefaultFallbackAfterAttempts)

	cs := &c.Consumer
	setString(&cs.ServerURL, DefaultConsumerServerURL)
	setInt(&cs.MinIntervalSeconds, DefaultConsumerMinInterval)
	setInt(&cs.ErrorCooldownSeconds, DefaultConsumerErrorCooldown)
	setInt(&cs.MaxFailures, DefaultConsumerMaxFailures)
	setInt(&cs.PollIntervalSeconds, DefaultConsumerPollInterval)

	s := &c.Storage
	setString(&s.DBType, DefaultDBType)
	setString(&s.DBPath, DefaultDBPath)
	setInt(&s.RetentionDays, DefaultRetentionDays)
	setInt(&s.FlushIntervalSeconds, DefaultFlushSeconds)

	n := &c.Network
	setInt(&n.RequestTimeout, DefaultRequestTimeout)
	setInt(&n.MaxRetries, DefaultMaxRetries)
	setInt(&n.ConcurrentRequests, DefaultConcurrentRequests)
	setString(&n.UserAgent, DefaultUserAgent)
}

func (c *Config) applyEnv() {
	if token := strings.TrimSpace(os.Getenv(TokenEnvVar)); token != "" {
		c.Finnhub.Token = token
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort < 0 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Finnhub endpoints (token is checked per request)
	if !strings.HasPrefix(c.Finnhub.WsURL, "ws://") && !strings.HasPrefix(c.Finnhub.WsURL, "wss://") {
		return fmt.Errorf("finnhub ws_url must be a ws:// or wss:// URL: %q", c.Finnhub.WsURL)
	}
	if !strings.HasPrefix(c.Finnhub.RestURL, "http://") && !strings.HasPrefix(c.Finnhub.RestURL, "https://") {
		return fmt.Errorf("finnhub rest_url must be an http(s) URL: %q", c.Finnhub.RestURL)
	}

	co := c.Coordinator
	if co.CircuitThreshold < 1 {
		return fmt.Errorf("circuit threshold must be at least 1")
	}
	if co.RateMaxAttempts < 1 {
		return fmt.Errorf("rate max attempts must be at least 1")
	}
	if co.CircuitResetSeconds < 0 || co.CooldownSeconds < 0 || co.RateLimitCooldownSeconds < 0 ||
		co.RateWindowSeconds < 0 || co.RateBlockSeconds < 0 {
		return fmt.Errorf("coordinator durations cannot be negative")
	}

	f := c.Feed
	if f.ReconnectBaseMs <= 0 {
		return fmt.Errorf("reconnect base must be greater than 0")
	}
	if f.ReconnectCapMs < f.ReconnectBaseMs {
		return fmt.Errorf("reconnect cap (%dms) must not be below base (%dms)", f.ReconnectCapMs, f.ReconnectBaseMs)
	}
	if f.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}
	if f.PollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}

	if c.Consumer.MaxFailures < 1 {
		return fmt.Errorf("consumer max failures must be at least 1")
	}

	if c.Storage.Enabled {
		switch c.Storage.DBType {
		case "sqlite":
			if c.Storage.DBPath == "" {
				return fmt.Errorf("database path cannot be empty for sqlite")
			}
		case "postgres":
			if c.Storage.DBConnectionString == "" {
				return fmt.Errorf("database connection string cannot be empty for postgres")
			}
		default:
			return fmt.Errorf("unsupported database type: %q", c.Storage.DBType)
		}
	}

	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent requests must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	out := *c.MConfig
	if os.Getenv(TokenEnvVar) != "" {
		// env-provided tokens never land on disk
		out.Finnhub.Token = ""
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
