package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chatrelay/internal/chat"
	"gopkg.in/yaml.v3"
)

// chatd config key mapping to relay runtime settings. TOML and YAML share keys.
type fileConfig struct {
	Addr             string   `toml:"addr" yaml:"addr"`
	NodeID           string   `toml:"node_id" yaml:"node_id"`
	AdminAddr        string   `toml:"admin_addr" yaml:"admin_addr"`
	WSAddr           string   `toml:"ws_addr" yaml:"ws_addr"`
	WriteTimeout     string   `toml:"write_timeout" yaml:"write_timeout"`
	AcceptRetryDelay string   `toml:"accept_retry_delay" yaml:"accept_retry_delay"`
	AllowedOrigins   []string `toml:"allowed_origins" yaml:"allowed_origins"`
	LogLevel         string   `toml:"log_level" yaml:"log_level"`
}

type runtimeConfig struct {
	Service  chat.ServiceConfig
	LogLevel string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{Service: chat.DefaultServiceConfig()}
}

// loadRuntimeConfig overlays the keys present in path onto the defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	raw, defined, err := decodeConfigFile(path)
	if err != nil {
		return runtimeConfig{}, err
	}

	if defined("addr") {
		cfg.Service.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if defined("node_id") {
		cfg.Service.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if defined("admin_addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("ws_addr") {
		cfg.Service.WSListenAddr = strings.TrimSpace(raw.WSAddr)
	}
	if defined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Service.WriteTimeout = d
	}
	if defined("accept_retry_delay") {
		d, err := parseDuration("accept_retry_delay", raw.AcceptRetryDelay)
		if err != nil {
			return runtimeConfig{}, err
		}
		if d <= 0 {
			return runtimeConfig{}, fmt.Errorf("load chatd config: accept_retry_delay must be positive")
		}
		cfg.Service.AcceptRetryDelay = d
	}
	if defined("allowed_origins") {
		cfg.Service.AllowedOrigins = raw.AllowedOrigins
	}
	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	cfg.Service = cfg.Service.WithDefaults()
	return cfg, nil
}

func decodeConfigFile(path string) (fileConfig, func(string) bool, error) {
	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fileConfig{}, nil, fmt.Errorf("load chatd config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fileConfig{}, nil, fmt.Errorf("load chatd config: %w", err)
		}
		keys := map[string]any{}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return fileConfig{}, nil, fmt.Errorf("load chatd config: %w", err)
		}
		return raw, func(key string) bool {
			_, ok := keys[key]
			return ok
		}, nil
	default:
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return fileConfig{}, nil, fmt.Errorf("load chatd config: %w", err)
		}
		return raw, func(key string) bool {
			return meta.IsDefined(key)
		}, nil
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("load chatd config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load chatd config: %s must not be negative", key)
	}
	return d, nil
}
