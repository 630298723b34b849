package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/protocol/session"
)

// ClientConfig is the resolved client configuration.
type ClientConfig struct {
	VizaddrURL      string
	VizType         string
	WorkerParams    map[string]string
	Session         session.Config
	DropStaleFrames bool
	LogLevel        zerolog.Level
	LogFile         string
	MetricsAddr     string
}

type fileConfig struct {
	VizaddrURL         string            `toml:"vizaddr_url"`
	VizType            string            `toml:"viz_type"`
	Scheme             string            `toml:"scheme"`
	ChannelPath        string            `toml:"channel_path"`
	WorkerParams       map[string]string `toml:"worker_params"`
	MaxConnectAttempts int               `toml:"max_connect_attempts"`
	RetryDelay         string            `toml:"retry_delay"`
	HandshakeTimeout   string            `toml:"handshake_timeout"`
	DropStaleFrames    bool              `toml:"drop_stale_frames"`
	LogLevel           string            `toml:"log_level"`
	LogFile            string            `toml:"log_file"`
	MetricsAddr        string            `toml:"metrics_addr"`
	TLS                tlsFileConfig     `toml:"tls"`
}

type tlsFileConfig struct {
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func Default() ClientConfig {
	return ClientConfig{
		VizaddrURL:      "http://localhost:3000",
		VizType:         "graph",
		WorkerParams:    map[string]string{},
		Session:         session.DefaultConfig(),
		DropStaleFrames: true,
		LogLevel:        zerolog.InfoLevel,
	}
}

// Load reads a TOML file; keys it does not define keep their defaults.
func Load(path string) (ClientConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	return apply(meta, raw)
}

// Parse is Load for in-memory TOML.
func Parse(data string) (ClientConfig, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("parse client config: %w", err)
	}
	return apply(meta, raw)
}

func apply(meta toml.MetaData, raw fileConfig) (ClientConfig, error) {
	cfg := Default()

	if meta.IsDefined("vizaddr_url") {
		cfg.VizaddrURL = strings.TrimRight(strings.TrimSpace(raw.VizaddrURL), "/")
	}
	if meta.IsDefined("viz_type") {
		cfg.VizType = strings.TrimSpace(raw.VizType)
	}
	if meta.IsDefined("scheme") {
		cfg.Session.Scheme = strings.ToLower(strings.TrimSpace(raw.Scheme))
	}
	if meta.IsDefined("channel_path") {
		cfg.Session.ChannelPath = strings.TrimSpace(raw.ChannelPath)
	}
	if meta.IsDefined("worker_params") {
		cfg.WorkerParams = normalizeParams(raw.WorkerParams)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.Retry.MaxAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		cfg.Session.Retry.Delay = d
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Session.HandshakeTimeout = d
	}
	if meta.IsDefined("drop_stale_frames") {
		cfg.DropStaleFrames = raw.DropStaleFrames
	}
	if meta.IsDefined("log_level") {
		level, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return ClientConfig{}, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.VizaddrURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client config: vizaddr_url must be an absolute URL, got %q", c.VizaddrURL)
	}
	if c.VizType == "" {
		return fmt.Errorf("client config missing viz_type")
	}
	if c.Session.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("client config: max_connect_attempts must be positive")
	}
	if c.Session.Retry.Delay < 0 {
		return fmt.Errorf("client config: retry_delay must not be negative")
	}
	if !strings.HasPrefix(c.Session.ChannelPath, "/") {
		return fmt.Errorf("client config: channel_path must start with /")
	}
	return c.Session.ValidateClientTransport()
}

func normalizeParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
