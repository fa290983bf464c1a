// Package config loads the gateway's process environment into a single
// struct-tagged Config, so every runtime knob is declared (and given its
// default) in one place instead of scattered os.Getenv calls.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-bound setting the gateway needs.
type Config struct {
	// Token verification
	JWTPublicKey   string `env:"JWT_PUBLIC_KEY"`
	JWTHS256Secret string `env:"JWT_HS256_SECRET"`
	JWTIssuer      string `env:"JWT_ISSUER"`
	JWTAudience    string `env:"JWT_AUDIENCE"`
	OIDCIssuerURL  string `env:"OIDC_ISSUER_URL"`

	// Shared store / bus
	RedisURL string `env:"REDIS_URL"`
	NATSURL  string `env:"NATS_URL"`

	// Downstream gRPC backends
	GRPCGameAddr   string `env:"GRPC_GAME_ADDR"`
	GRPCPlayerAddr string `env:"GRPC_PLAYER_ADDR"`
	GRPCEventAddr  string `env:"GRPC_EVENT_ADDR"`

	// Rate limiter
	RateLimitWindowMS int `env:"WS_RATE_LIMIT_WINDOW_MS" envDefault:"10000"`
	RateLimitMax      int `env:"WS_RATE_LIMIT_MAX" envDefault:"20"`

	// Session lifecycle
	AuthTimeoutMS       int `env:"WS_AUTH_TIMEOUT_MS" envDefault:"5000"`
	HeartbeatIntervalMS int `env:"WS_HEARTBEAT_INTERVAL_MS" envDefault:"30000"`

	// Instance liveness
	InstanceHeartbeatMS  int    `env:"WS_INSTANCE_HEARTBEAT_MS" envDefault:"15000"`
	InstanceStaleAfterMS int    `env:"WS_INSTANCE_STALE_AFTER_MS" envDefault:"60000"`
	SweepCron            string `env:"WS_SWEEP_CRON" envDefault:"@every 30s"`

	// Ambient
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RateLimitWindow returns the configured rate-limit window as a Duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// AuthTimeout returns the configured auth handshake timeout as a Duration.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutMS) * time.Millisecond
}

// HeartbeatInterval returns the configured heartbeat interval as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// InstanceHeartbeat returns how often this instance refreshes its
// presence row in the shared registry.
func (c *Config) InstanceHeartbeat() time.Duration {
	return time.Duration(c.InstanceHeartbeatMS) * time.Millisecond
}

// InstanceStaleAfter returns how old an instance heartbeat may be before
// the staleness sweep reclaims its rows.
func (c *Config) InstanceStaleAfter() time.Duration {
	return time.Duration(c.InstanceStaleAfterMS) * time.Millisecond
}
