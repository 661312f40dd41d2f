package models

import "time"

// MConfig Structure
type MConfig struct {
	Name               string             `yaml:"name"`
	Host               string             `yaml:"host"`
	Port               int                `yaml:"port"`
	LogLevel           string             `yaml:"log_level"`
	LogFile            string             `yaml:"log_file"`
	GrpcHost           string             `yaml:"grpc_host"`
	GrpcPort           int                `yaml:"grpc_port"`
	CorsAllowedOrigins []string           `yaml:"cors_allowed_origins"`
	Finnhub            MFinnhubConfig     `yaml:"finnhub"`
	Coordinator        MCoordinatorConfig `yaml:"coordinator"`
	Feed               MFeedConfig        `yaml:"feed"`
	Consumer           MConsumerConfig    `yaml:"consumer"`
	Storage            MStorageConfig     `yaml:"storage"`
	Network            MNetworkConfig     `yaml:"network"`
}

type MFinnhubConfig struct {
	Token   string `yaml:"token"`
	WsURL   string `yaml:"ws_url"`
	RestURL string `yaml:"rest_url"`
}

type MCoordinatorConfig struct {
	CircuitThreshold         int `yaml:"circuit_threshold"`
	CircuitResetSeconds      int `yaml:"circuit_reset_seconds"`
	CooldownSeconds          int `yaml:"cooldown_seconds"`
	RateLimitCooldownSeconds int `yaml:"rate_limit_cooldown_seconds"`
	RateWindowSeconds        int `yaml:"rate_window_seconds"`
	RateMaxAttempts          int `yaml:"rate_max_attempts"`
	RateBlockSeconds         int `yaml:"rate_block_seconds"`
}

type MFeedConfig struct {
	ReconnectBaseMs            int  `yaml:"reconnect_base_ms"`
	ReconnectCapMs             int  `yaml:"reconnect_cap_ms"`
	MaxReconnectAttempts       int  `yaml:"max_reconnect_attempts"`
	SubscribeIntervalMs        int  `yaml:"subscribe_interval_ms"`
	PollIntervalMs             int  `yaml:"poll_interval_ms"`
	ClosedMarketPollIntervalMs int  `yaml:"closed_market_poll_interval_ms"`
	FallbackAfterAttempts      int  `yaml:"fallback_after_attempts"`
	DisableFallbackPolling     bool `yaml:"disable_fallback_polling"`
}

type MConsumerConfig struct {
	ServerURL            string `yaml:"server_url"`
	MinIntervalSeconds   int    `yaml:"min_interval_seconds"`
	ErrorCooldownSeconds int    `yaml:"error_cooldown_seconds"`
	MaxFailures          int    `yaml:"max_failures"`
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
}

type MStorageConfig struct {
	Enabled              bool   `yaml:"enabled"`
	DBType               string `yaml:"db_type"`
	DBPath               string `yaml:"db_path"`
	DBConnectionString   string `yaml:"db_connection_string"`
	RetentionDays        int    `yaml:"retention_days"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds"`
}

type MNetworkConfig struct {
	RequestTimeout     int    `yaml:"timeout"`
	MaxRetries         int    `yaml:"retries"`
	ConcurrentRequests int    `yaml:"concurrent_requests"`
	UserAgent          string `yaml:"user_agent"`
}

// -----------------------------------------------------------------------------

func (c MCoordinatorConfig) CircuitResetTimeout() time.Duration {
	return time.Duration(c.CircuitResetSeconds) * time.Second
}

func (c MCoordinatorConfig) Cooldown(rateLimited bool) time.Duration {
	if rateLimited {
		return time.Duration(c.RateLimitCooldownSeconds) * time.Second
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c MCoordinatorConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

func (c MCoordinatorConfig) RateBlock() time.Duration {
	return time.Duration(c.RateBlockSeconds) * time.Second
}

// -----------------------------------------------------------------------------

func (f MFeedConfig) ReconnectBase() time.Duration {
	return time.Duration(f.ReconnectBaseMs) * time.Millisecond
}

func (f MFeedConfig) ReconnectCap() time.Duration {
	return time.Duration(f.ReconnectCapMs) * time.Millisecond
}

func (f MFeedConfig) SubscribeInterval() time.Duration {
	return time.Duration(f.SubscribeIntervalMs) * time.Millisecond
}

func (f MFeedConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

func (f MFeedConfig) ClosedMarketPollInterval() time.Duration {
	return time.Duration(f.ClosedMarketPollIntervalMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

func (c MConsumerConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

func (c MConsumerConfig) ErrorCooldown() time.Duration {
	return time.Duration(c.ErrorCooldownSeconds) * time.Second
}

func (c MConsumerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
