package session

import "time"

// RetryConfig bounds one establishment retry loop.
type RetryConfig struct {
	MaxAttempts     int
	FirstRetryDelay time.Duration
	Delay           time.Duration
}

// Config defines establishment and transport defaults.
type Config struct {
	Scheme           string
	ChannelPath      string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Retry            RetryConfig
	TLS              TLSConfig
}

// DefaultRetryConfig retries twice: once immediately, then after one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		FirstRetryDelay: 0,
		Delay:           time.Second,
	}
}

func DefaultConfig() Config {
	return Config{
		Scheme:           "http",
		ChannelPath:      "/channel",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		Retry:            DefaultRetryConfig(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Scheme == "" {
		c.Scheme = def.Scheme
	}
	if c.ChannelPath == "" {
		c.ChannelPath = def.ChannelPath
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = def.Retry
	} else if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	return c
}

// ChannelScheme maps the fetch scheme onto the websocket scheme.
func (c Config) ChannelScheme() string {
	if c.Scheme == "https" {
		return "wss"
	}
	return "ws"
}
