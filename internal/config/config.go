package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gateway's full operational configuration, loaded once at
// startup by Load.
type Config struct {
	Gateway   GatewayConfig
	Server    ServerConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig
}

// GatewayConfig carries the signer identity.
type GatewayConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	Provider   string `mapstructure:"provider"`
	Version    string `mapstructure:"version"`
}

// DefaultPrivateKey is the all-zero key GATEWAY_PRIVATE_KEY falls back to
// when unset. Zero is not a valid secp256k1 scalar, so the gateway
// entrypoint logs a warning whenever the loaded key equals this default and
// signs with a placeholder development key instead.
const DefaultPrivateKey = "0x0000000000000000000000000000000000000000000000000000000000000000"

// IsDefaultPrivateKey reports whether key is the unset-fallback value.
func IsDefaultPrivateKey(key string) bool {
	return key == DefaultPrivateKey
}

// ServerConfig is the HTTP listen configuration.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RateLimitConfig carries the two named limiter tiers' (window, max)
// tuples. Defaulted to the same budgets as ratelimit.DefaultTiers; operators
// may override via env or config file.
type RateLimitConfig struct {
	IPWindowSec     int `mapstructure:"ip_window_sec"`
	IPMax           int `mapstructure:"ip_max"`
	APIKeyWindowSec int `mapstructure:"api_key_window_sec"`
	APIKeyMax       int `mapstructure:"api_key_max"`
	SweepIntervalSec int `mapstructure:"sweep_interval_sec"`
}

// LogConfig carries the zap log-level knob.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional config.yaml, environment
// variables, and built-in defaults, then validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 3000)
	v.SetDefault("gateway.private_key", DefaultPrivateKey)
	v.SetDefault("gateway.provider", "ensgateway")
	v.SetDefault("gateway.version", "v1")
	v.SetDefault("rate_limit.ip_window_sec", 60)
	v.SetDefault("rate_limit.ip_max", 100)
	v.SetDefault("rate_limit.api_key_window_sec", 60)
	v.SetDefault("rate_limit.api_key_max", 1000)
	v.SetDefault("rate_limit.sweep_interval_sec", 300)
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"gateway.private_key":          "GATEWAY_PRIVATE_KEY",
		"gateway.provider":             "GATEWAY_PROVIDER",
		"gateway.version":              "GATEWAY_VERSION",
		"server.port":                  "PORT",
		"rate_limit.ip_window_sec":     "RATE_LIMIT_IP_WINDOW_SEC",
		"rate_limit.ip_max":            "RATE_LIMIT_IP_MAX",
		"rate_limit.api_key_window_sec": "RATE_LIMIT_API_KEY_WINDOW_SEC",
		"rate_limit.api_key_max":       "RATE_LIMIT_API_KEY_MAX",
		"rate_limit.sweep_interval_sec": "RATE_LIMIT_SWEEP_INTERVAL_SEC",
		"log.level":                    "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("required config missing: PORT")
	}
	return nil
}
