package chat

import (
	"strings"
	"time"
)

// ServiceConfig configures the relay listener and its optional HTTP surfaces.
type ServiceConfig struct {
	NodeID           string
	ListenAddr       string
	AdminListenAddr  string
	WSListenAddr     string
	WriteTimeout     time.Duration
	AcceptRetryDelay time.Duration
	AllowedOrigins   []string
}

// DefaultServiceConfig listens on the protocol's well-known port with HTTP surfaces disabled.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:           "chatd",
		ListenAddr:       ":9001",
		AdminListenAddr:  "",
		WSListenAddr:     "",
		WriteTimeout:     10 * time.Second,
		AcceptRetryDelay: 50 * time.Millisecond,
		AllowedOrigins:   []string{},
	}
}

// WithDefaults fills blank or negative fields from DefaultServiceConfig.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = def.NodeID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.AcceptRetryDelay <= 0 {
		c.AcceptRetryDelay = def.AcceptRetryDelay
	}
	c.AllowedOrigins = normalizeOrigins(c.AllowedOrigins)
	return c
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
