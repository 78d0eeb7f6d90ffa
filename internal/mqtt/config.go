package mqtt

import (
	"time"

	"github.com/HerbHall/homewatch/pkg/plugin"
)

// Config holds MQTT publisher configuration.
type Config struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Home Assistant MQTT auto-discovery settings.
	HADiscovery       bool   `mapstructure:"ha_discovery"`
	HADiscoveryPrefix string `mapstructure:"ha_discovery_prefix"`
}

// DefaultConfig returns the defaults. An empty broker URL disables publishing.
func DefaultConfig() Config {
	return Config{
		ClientID:          "homewatch",
		TopicPrefix:       "homewatch",
		QoS:               1,
		Retain:            true,
		Timeout:           10 * time.Second,
		HADiscoveryPrefix: "homeassistant",
	}
}

func loadConfig(c plugin.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if u := c.GetString("broker_url"); u != "" {
		cfg.BrokerURL = u
	}
	if u := c.GetString("username"); u != "" {
		cfg.Username = u
	}
	if p := c.GetString("password"); p != "" {
		cfg.Password = p
	}
	if id := c.GetString("client_id"); id != "" {
		cfg.ClientID = id
	}
	if t := c.GetString("topic_prefix"); t != "" {
		cfg.TopicPrefix = t
	}
	if c.IsSet("qos") {
		cfg.QoS = byte(c.GetInt("qos"))
	}
	if c.IsSet("retain") {
		cfg.Retain = c.GetBool("retain")
	}
	if d := c.GetDuration("timeout"); d > 0 {
		cfg.Timeout = d
	}
	if c.IsSet("ha_discovery") {
		cfg.HADiscovery = c.GetBool("ha_discovery")
	}
	if p := c.GetString("ha_discovery_prefix"); p != "" {
		cfg.HADiscoveryPrefix = p
	}
	return cfg
}
