package camera

import (
	"time"

	"github.com/HerbHall/homewatch/pkg/plugin"
)

// Config holds the camera module configuration.
type Config struct {
	StreamURL     string        `mapstructure:"stream_url"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	MaxFrameBytes int           `mapstructure:"max_frame_bytes"`
	DecodeFrames  bool          `mapstructure:"decode_frames"`
	Motion        MotionConfig  `mapstructure:"motion_detection"`
}

// MotionConfig configures the motion probe.
type MotionConfig struct {
	Enabled      bool             `mapstructure:"enabled"`
	URL          string           `mapstructure:"url"`
	Interval     time.Duration    `mapstructure:"interval"`
	ProbeTimeout time.Duration    `mapstructure:"probe_timeout"`
	Trigger      TriggerCondition `mapstructure:"trigger_condition"`
}

// TriggerCondition selects the signal: the single byte at Offset of the
// probe document, matching when it equals Byte.
type TriggerCondition struct {
	Offset int  `mapstructure:"character_offset"`
	Byte   byte `mapstructure:"character_byte"`
}

// DefaultConfig returns the default configuration for the camera module.
func DefaultConfig() Config {
	return Config{
		StreamURL:     "http://127.0.0.1/cgi-bin/CGIStream.cgi?cmd=GetMJStream",
		ReadTimeout:   30 * time.Second,
		MaxFrameBytes: 8 << 20,
		DecodeFrames:  true,
		Motion: MotionConfig{
			URL:          "http://127.0.0.1/cgi-bin/CGIProxy.fcgi?cmd=getDevState",
			Interval:     3 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
	}
}

func loadConfig(c plugin.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if s := c.GetString("stream_url"); s != "" {
		cfg.StreamURL = s
	}
	if d := c.GetDuration("read_timeout"); d > 0 {
		cfg.ReadTimeout = d
	}
	if n := c.GetInt("max_frame_bytes"); n > 0 {
		cfg.MaxFrameBytes = n
	}
	if c.IsSet("decode_frames") {
		cfg.DecodeFrames = c.GetBool("decode_frames")
	}

	md := c.Sub("motion_detection")
	cfg.Motion.Enabled = md.GetBool("enabled")
	if s := md.GetString("url"); s != "" {
		cfg.Motion.URL = s
	}
	if d := md.GetDuration("interval"); d > 0 {
		cfg.Motion.Interval = d
	}
	if d := md.GetDuration("probe_timeout"); d > 0 {
		cfg.Motion.ProbeTimeout = d
	}
	cfg.Motion.Trigger.Offset = md.GetInt("trigger_condition.character_offset")
	cfg.Motion.Trigger.Byte = byte(md.GetInt("trigger_condition.character_byte"))
	return cfg
}
