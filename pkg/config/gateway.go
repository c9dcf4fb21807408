package config

import "time"

// GatewayConfig configures the session gateway (C7): listen addresses and
// per-client throughput policy (§4.7, §6 environment knobs).
type GatewayConfig struct {
	Port       int `yaml:"port,omitempty"`
	HealthPort int `yaml:"health_port,omitempty"`

	AuthTokenEnv     string `yaml:"auth_token_env,omitempty"`
	InternalTokenEnv string `yaml:"internal_token_env,omitempty"`

	MessagesPerMinute int           `yaml:"messages_per_minute,omitempty"`
	WriteTimeout      time.Duration `yaml:"write_timeout,omitempty"`
	DrainTimeout      time.Duration `yaml:"drain_timeout,omitempty"`
}

// DefaultGatewayConfig returns built-in gateway server defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Port:              8080,
		HealthPort:        8081,
		AuthTokenEnv:      "GATEWAY_AUTH_TOKEN",
		InternalTokenEnv:  "INTERNAL_AUTH_TOKEN",
		MessagesPerMinute: 120,
		WriteTimeout:      5 * time.Second,
		DrainTimeout:      30 * time.Second,
	}
}
