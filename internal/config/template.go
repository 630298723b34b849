package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default configuration as TOML.
func Template() (string, error) {
	def := Default()
	out := fileConfig{
		VizaddrURL:         def.VizaddrURL,
		VizType:            def.VizType,
		Scheme:             def.Session.Scheme,
		ChannelPath:        def.Session.ChannelPath,
		WorkerParams:       map[string]string{"dataset": "miserables", "scene": "default"},
		MaxConnectAttempts: def.Session.Retry.MaxAttempts,
		RetryDelay:         def.Session.Retry.Delay.String(),
		HandshakeTimeout:   def.Session.HandshakeTimeout.String(),
		DropStaleFrames:    def.DropStaleFrames,
		LogLevel:           def.LogLevel.String(),
		MetricsAddr:        "127.0.0.1:9464",
	}
	data, err := toml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
