package router

import (
	"time"

	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
)

// Config holds the router module configuration.
type Config struct {
	Address         string              `mapstructure:"address"`
	Username        string              `mapstructure:"username"`
	Password        string              `mapstructure:"password"`
	PollInterval    time.Duration       `mapstructure:"poll_interval"`
	MaxAuthAttempts int                 `mapstructure:"max_auth_attempts"`
	AuthBackoff     time.Duration       `mapstructure:"auth_backoff"`
	RequestTimeout  time.Duration       `mapstructure:"request_timeout"`
	PingCheck       bool                `mapstructure:"ping_check"`
	Filter          []models.FilterRule `mapstructure:"filter"`
}

// DefaultConfig returns the default configuration for the router module.
func DefaultConfig() Config {
	return Config{
		Address:         "fritz.box",
		Password:        "admin",
		PollInterval:    DefaultInterval,
		MaxAuthAttempts: DefaultMaxAttempts,
		AuthBackoff:     DefaultBackoff,
		RequestTimeout:  10 * time.Second,
	}
}

// loadConfig overlays the set keys of c on the defaults.
func loadConfig(c plugin.Config) (Config, error) {
	cfg := DefaultConfig()
	if c == nil {
		return cfg, nil
	}
	if s := c.GetString("address"); s != "" {
		cfg.Address = s
	}
	cfg.Username = c.GetString("username")
	if c.IsSet("password") {
		cfg.Password = c.GetString("password")
	}
	if d := c.GetDuration("poll_interval"); d > 0 {
		cfg.PollInterval = d
	}
	if n := c.GetInt("max_auth_attempts"); n > 0 {
		cfg.MaxAuthAttempts = n
	}
	if d := c.GetDuration("auth_backoff"); d > 0 {
		cfg.AuthBackoff = d
	}
	if d := c.GetDuration("request_timeout"); d > 0 {
		cfg.RequestTimeout = d
	}
	cfg.PingCheck = c.GetBool("ping_check")

	rules, err := loadFilter(c)
	if err != nil {
		return cfg, err
	}
	cfg.Filter = rules
	return cfg, nil
}

func loadFilter(c plugin.Config) ([]models.FilterRule, error) {
	var section struct {
		Filter []models.FilterRule `mapstructure:"filter"`
	}
	if err := c.Unmarshal(&section); err != nil {
		return nil, err
	}
	return section.Filter, nil
}
