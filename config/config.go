// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker types.
const (
	BrokerMock = "mock"
	BrokerMQTT = "mqtt"
	BrokerNATS = "nats"
)

// Config holds all configuration for the messaging client.
type Config struct {
	Broker         BrokerConfig         `yaml:"broker"`
	Client         ClientConfig         `yaml:"client"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Log            LogConfig            `yaml:"log"`
	Otel           OtelConfig           `yaml:"otel"`
}

// BrokerConfig selects and addresses the broker.
type BrokerConfig struct {
	Type           string        `yaml:"type"` // mock, mqtt, nats
	URL            string        `yaml:"url"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"` // generated when empty
	Admin          bool          `yaml:"admin"`     // connect with the admin URL prefix
	Compression    string        `yaml:"compression"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// ClientConfig holds session-level settings.
type ClientConfig struct {
	SendRate       float64       `yaml:"send_rate"` // messages per second per destination, 0 disables limiting
	SendBurst      int           `yaml:"send_burst"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CircuitBreakerConfig guards publishing on network transports.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// OtelConfig holds OpenTelemetry configuration.
type OtelConfig struct {
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	Endpoint        string  `yaml:"endpoint"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Type:           BrokerMock,
			URL:            "tcp://localhost:7222",
			Compression:    "zstd",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		Client: ClientConfig{
			SendRate:       0,
			SendBurst:      10,
			ReceiveTimeout: 5 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Otel: OtelConfig{
			ServiceName:     "jmsctl",
			ServiceVersion:  "0.1.0",
			Endpoint:        "localhost:4317",
			TraceSampleRate: 0.1,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Broker.Type {
	case BrokerMock, BrokerMQTT, BrokerNATS:
	default:
		return fmt.Errorf("broker.type must be one of: mock, mqtt, nats")
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url cannot be empty")
	}
	switch c.Broker.Compression {
	case "", "none", "zstd", "s2":
	default:
		return fmt.Errorf("broker.compression must be one of: none, zstd, s2")
	}
	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	if c.Broker.PublishTimeout <= 0 {
		return fmt.Errorf("broker.publish_timeout must be positive")
	}

	if c.Client.SendRate < 0 {
		return fmt.Errorf("client.send_rate cannot be negative")
	}
	if c.Client.SendRate > 0 && c.Client.SendBurst < 1 {
		return fmt.Errorf("client.send_burst must be at least 1 when send_rate is set")
	}
	if c.Client.ReceiveTimeout < 0 {
		return fmt.Errorf("client.receive_timeout cannot be negative")
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be positive")
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
	}
	if c.CircuitBreaker.ResetTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.reset_timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Otel.TraceSampleRate < 0 || c.Otel.TraceSampleRate > 1 {
		return fmt.Errorf("otel.trace_sample_rate must be between 0.0 and 1.0")
	}
	if (c.Otel.TracesEnabled || c.Otel.MetricsEnabled) && c.Otel.Endpoint == "" {
		return fmt.Errorf("otel.endpoint required when traces or metrics are enabled")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
