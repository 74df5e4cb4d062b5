// Package config loads the trader's YAML configuration. Secrets may be left
// out of the file and supplied through environment variables instead.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KeyPair is one API credential. Several pairs may be configured; private
// calls rotate through them round-robin.
type KeyPair struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

// Config holds every runtime setting of the trader process.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		Name         string    `yaml:"name"`
		RestURL      string    `yaml:"rest_url"`
		WSPublicURL  string    `yaml:"ws_public_url"`
		WSPrivateURL string    `yaml:"ws_private_url"`
		Keys         []KeyPair `yaml:"keys"`
		Symbols      []string  `yaml:"symbols"`
	} `yaml:"exchange"`

	Rest struct {
		TimeoutSec       int `yaml:"timeout_sec"`
		RateLimitPerSec  int `yaml:"rate_limit_per_sec"`
		TransportRetries int `yaml:"transport_retries"`
		TransportDelayMS int `yaml:"transport_delay_ms"`
	} `yaml:"rest"`

	WebSocket struct {
		PingIntervalSec      int `yaml:"ping_interval_sec"`
		ReconnectDelayMS     int `yaml:"reconnect_delay_ms"`
		MaxReconnectDelaySec int `yaml:"max_reconnect_delay_sec"`
		MaxRetries           int `yaml:"max_retries"`
		BookDepth            int `yaml:"book_depth"`
	} `yaml:"websocket"`

	Execution struct {
		TickIntervalMS int `yaml:"tick_interval_ms"`
		OrderLifeSec   int `yaml:"order_life_sec"`
	} `yaml:"execution"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads and parses the configuration file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv lets secrets stay out of the YAML file. TRADECORE_API_KEY
// and TRADECORE_API_SECRET replace or seed the first key pair.
func overrideWithEnv(cfg *Config) {
	key := os.Getenv("TRADECORE_API_KEY")
	secret := os.Getenv("TRADECORE_API_SECRET")
	if key == "" && secret == "" {
		return
	}
	if len(cfg.Exchange.Keys) == 0 {
		cfg.Exchange.Keys = []KeyPair{{}}
	}
	if key != "" {
		cfg.Exchange.Keys[0].Key = key
	}
	if secret != "" {
		cfg.Exchange.Keys[0].Secret = secret
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Exchange.RestURL == "" || !strings.HasPrefix(c.Exchange.RestURL, "http") {
		return fmt.Errorf("invalid REST URL: %q", c.Exchange.RestURL)
	}
	for _, u := range []string{c.Exchange.WSPublicURL, c.Exchange.WSPrivateURL} {
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("invalid WebSocket URL: %q", u)
		}
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for i, pair := range c.Exchange.Keys {
		if pair.Key == "" || pair.Secret == "" {
			return fmt.Errorf("key pair %d is incomplete", i)
		}
	}
	if c.Execution.TickIntervalMS < 0 || c.Execution.OrderLifeSec < 0 {
		return fmt.Errorf("execution intervals must not be negative")
	}
	return nil
}

// RestTimeout returns the REST request timeout with its default.
func (c *Config) RestTimeout() time.Duration {
	if c.Rest.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Rest.TimeoutSec) * time.Second
}

// TransportDelay returns the delay seeding REST transport retries.
func (c *Config) TransportDelay() time.Duration {
	if c.Rest.TransportDelayMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Rest.TransportDelayMS) * time.Millisecond
}

// PingInterval returns the WebSocket ping cadence.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.WebSocket.PingIntervalSec) * time.Second
}

// ReconnectDelay returns the initial WebSocket reconnect backoff.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.WebSocket.ReconnectDelayMS) * time.Millisecond
}

// MaxReconnectDelay returns the reconnect backoff ceiling.
func (c *Config) MaxReconnectDelay() time.Duration {
	return time.Duration(c.WebSocket.MaxReconnectDelaySec) * time.Second
}

// TickInterval returns the execution placement cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Execution.TickIntervalMS) * time.Millisecond
}

// OrderLife returns how long a resting child order may live before it is
// cancelled and re-placed.
func (c *Config) OrderLife() time.Duration {
	return time.Duration(c.Execution.OrderLifeSec) * time.Second
}
