// Package config provides a Viper-backed implementation of the plugin.Config interface.
package config

import (
	"time"

	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig is a live view of one section of a Viper instance. Reads go
// through the root instance with the section prefix prepended, so values
// re-read by Watch and HW_* environment overrides are visible to modules
// holding a section.
type ViperConfig struct {
	v      *viper.Viper
	prefix string
}

// New creates a Config over the root of v.
// Returns the concrete type; callers assign to plugin.Config where needed.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + "." + k
}

// Unmarshal decodes the whole section into target.
func (c *ViperConfig) Unmarshal(target any) error {
	if c.prefix == "" {
		return c.v.Unmarshal(target)
	}
	return c.v.UnmarshalKey(c.prefix, target)
}

func (c *ViperConfig) Get(key string) any                   { return c.v.Get(c.key(key)) }
func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(c.key(key)) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(c.key(key)) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(c.key(key)) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(c.key(key)) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(c.key(key)) }

// Sub narrows the view to a nested section. A missing section yields
// zero values rather than nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return &ViperConfig{v: c.v, prefix: c.key(key)}
}

// Watch starts watching the config file backing v and calls fn after
// each change has been re-read. It is a no-op when v has no file.
func Watch(v *viper.Viper, logger *zap.Logger, fn func(e fsnotify.Event)) {
	if v.ConfigFileUsed() == "" {
		logger.Debug("no config file in use, hot reload disabled")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()),
		)
		fn(e)
	})
	v.WatchConfig()
}

// TopicReloaded is published on the event bus after the config file
// changed. The payload is the root plugin.Config.
const TopicReloaded = "config.reloaded"
