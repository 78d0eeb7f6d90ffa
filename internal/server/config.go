package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	DevMode   bool            `mapstructure:"dev_mode"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig controls the per-client token bucket on the API.
type RateLimitConfig struct {
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
	TrustProxy bool    `mapstructure:"trust_proxy"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConfigFrom extracts the server section of v.
func ConfigFrom(v *viper.Viper) Config {
	return Config{
		Host:    v.GetString("server.host"),
		Port:    v.GetInt("server.port"),
		DevMode: v.GetBool("server.dev_mode"),
		RateLimit: RateLimitConfig{
			RPS:        v.GetFloat64("server.rate_limit.rps"),
			Burst:      v.GetInt("server.rate_limit.burst"),
			TrustProxy: v.GetBool("server.rate_limit.trust_proxy"),
		},
	}
}

// LoadConfig reads configuration from file and environment variables.
// A missing config file is not an error; defaults apply.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("homewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/homewatch")
	}

	// HW_PLUGINS_ROUTER_PASSWORD=... overrides plugins.router.password
	v.SetEnvPrefix("HW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.rate_limit.rps", 50)
	v.SetDefault("server.rate_limit.burst", 100)
	v.SetDefault("server.rate_limit.trust_proxy", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("plugins.router.enabled", true)
	v.SetDefault("plugins.router.address", "fritz.box")
	v.SetDefault("plugins.router.username", "")
	v.SetDefault("plugins.router.password", "admin")
	v.SetDefault("plugins.router.poll_interval", "30s")
	v.SetDefault("plugins.router.max_auth_attempts", 10)
	v.SetDefault("plugins.router.auth_backoff", "2s")
	v.SetDefault("plugins.router.request_timeout", "10s")
	v.SetDefault("plugins.router.ping_check", false)
	v.SetDefault("plugins.router.filter", []any{})

	v.SetDefault("plugins.camera.enabled", true)
	v.SetDefault("plugins.camera.stream_url", "http://127.0.0.1/cgi-bin/CGIStream.cgi?cmd=GetMJStream")
	v.SetDefault("plugins.camera.read_timeout", "30s")
	v.SetDefault("plugins.camera.max_frame_bytes", 8<<20)
	v.SetDefault("plugins.camera.decode_frames", true)
	v.SetDefault("plugins.camera.motion_detection.enabled", false)
	v.SetDefault("plugins.camera.motion_detection.url", "http://127.0.0.1/cgi-bin/CGIProxy.fcgi?cmd=getDevState")
	v.SetDefault("plugins.camera.motion_detection.interval", "3s")
	v.SetDefault("plugins.camera.motion_detection.probe_timeout", "5s")
	v.SetDefault("plugins.camera.motion_detection.trigger_condition.character_offset", 0)
	v.SetDefault("plugins.camera.motion_detection.trigger_condition.character_byte", 0)

	v.SetDefault("plugins.mqtt.broker_url", "")
	v.SetDefault("plugins.mqtt.client_id", "homewatch")
	v.SetDefault("plugins.mqtt.topic_prefix", "homewatch")
	v.SetDefault("plugins.mqtt.qos", 1)
	v.SetDefault("plugins.mqtt.retain", true)
	v.SetDefault("plugins.mqtt.timeout", "10s")
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.mqtt.ha_discovery_prefix", "homeassistant")

	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
}
