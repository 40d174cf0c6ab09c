package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

// Config defines the runtime configuration for the streaming client.
type Config struct {
	ServerURL string          `mapstructure:"server_url" yaml:"server_url"`
	AutoStart bool            `mapstructure:"auto_start" yaml:"auto_start"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Stream    StreamConfig    `mapstructure:"stream" yaml:"stream"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Viewer    ViewerConfig    `mapstructure:"viewer" yaml:"viewer"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// CaptureConfig selects and parameterizes the capture source.
type CaptureConfig struct {
	Source         string        `mapstructure:"source" yaml:"source"` // pattern, file or webcam
	Dir            string        `mapstructure:"dir" yaml:"dir"`       // image directory for the file source
	Device         int           `mapstructure:"device" yaml:"device"` // webcam index, negative to try 0..2
	Width          int           `mapstructure:"width" yaml:"width"`
	Height         int           `mapstructure:"height" yaml:"height"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
}

// StreamConfig controls the pacing loop and encoder.
type StreamConfig struct {
	FrameInterval      time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	TickInterval       time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	Quality            float64       `mapstructure:"quality" yaml:"quality"`
	Policy             string        `mapstructure:"policy" yaml:"policy"` // arrival or send
	InFlightTimeout    time.Duration `mapstructure:"in_flight_timeout" yaml:"in_flight_timeout"`
	StabilizationDelay time.Duration `mapstructure:"stabilization_delay" yaml:"stabilization_delay"`
}

// TransportConfig controls the websocket channel.
type TransportConfig struct {
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// ViewerConfig controls the local HTTP viewer.
type ViewerConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	StatusInterval time.Duration `mapstructure:"status_interval" yaml:"status_interval"`
	MJPEGInterval  time.Duration `mapstructure:"mjpeg_interval" yaml:"mjpeg_interval"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
	Color  bool   `mapstructure:"color" yaml:"color"`
}

// DefaultConfig returns a config aligned with the browser client behavior.
func DefaultConfig() Config {
	stream := types.DefaultStreamConfig()
	return Config{
		ServerURL: "ws://localhost:8000/ws",
		AutoStart: true,
		Capture: CaptureConfig{
			Source:         "pattern",
			Device:         -1,
			Width:          stream.Width,
			Height:         stream.Height,
			AcquireTimeout: stream.AcquireTimeout,
		},
		Stream: StreamConfig{
			FrameInterval:      stream.FrameInterval,
			TickInterval:       10 * time.Millisecond,
			Quality:            stream.Quality,
			Policy:             "arrival",
			InFlightTimeout:    5 * time.Second,
			StabilizationDelay: 500 * time.Millisecond,
		},
		Transport: TransportConfig{
			ReconnectDelay:       2 * time.Second,
			MaxReconnectAttempts: 5,
			HandshakeTimeout:     10 * time.Second,
			PingInterval:         0,
		},
		Viewer: ViewerConfig{
			Enabled:        true,
			Addr:           ":8090",
			StatusInterval: time.Second,
			MJPEGInterval:  100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Color:  true,
		},
	}
}

// FlagBindings maps configuration keys to command-line flag names.
var FlagBindings = map[string]string{
	"server_url":                       "server",
	"auto_start":                       "auto-start",
	"capture.source":                   "source",
	"capture.dir":                      "dir",
	"capture.device":                   "device",
	"stream.frame_interval":            "interval",
	"stream.quality":                   "quality",
	"stream.policy":                    "policy",
	"transport.reconnect_delay":        "reconnect-delay",
	"transport.max_reconnect_attempts": "max-reconnects",
	"viewer.addr":                      "http",
	"viewer.enabled":                   "viewer",
	"log.level":                        "log-level",
	"log.format":                       "log-format",
	"log.color":                        "log-color",
}

// Load builds a Config from defaults, an optional YAML file, STREAMER_*
// environment variables and explicitly set flags, in increasing precedence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("STREAMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for key, name := range FlagBindings {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf key so that environment variables are
// picked up by Unmarshal even when no config file mentions the key.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("auto_start", d.AutoStart)

	v.SetDefault("capture.source", d.Capture.Source)
	v.SetDefault("capture.dir", d.Capture.Dir)
	v.SetDefault("capture.device", d.Capture.Device)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.acquire_timeout", d.Capture.AcquireTimeout)

	v.SetDefault("stream.frame_interval", d.Stream.FrameInterval)
	v.SetDefault("stream.tick_interval", d.Stream.TickInterval)
	v.SetDefault("stream.quality", d.Stream.Quality)
	v.SetDefault("stream.policy", d.Stream.Policy)
	v.SetDefault("stream.in_flight_timeout", d.Stream.InFlightTimeout)
	v.SetDefault("stream.stabilization_delay", d.Stream.StabilizationDelay)

	v.SetDefault("transport.reconnect_delay", d.Transport.ReconnectDelay)
	v.SetDefault("transport.max_reconnect_attempts", d.Transport.MaxReconnectAttempts)
	v.SetDefault("transport.handshake_timeout", d.Transport.HandshakeTimeout)
	v.SetDefault("transport.ping_interval", d.Transport.PingInterval)

	v.SetDefault("viewer.enabled", d.Viewer.Enabled)
	v.SetDefault("viewer.addr", d.Viewer.Addr)
	v.SetDefault("viewer.status_interval", d.Viewer.StatusInterval)
	v.SetDefault("viewer.mjpeg_interval", d.Viewer.MJPEGInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid server_url %q: %w", c.ServerURL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("invalid server_url scheme %q (expected ws:// or wss://)", u.Scheme))
	}

	switch c.Capture.Source {
	case "pattern", "webcam":
	case "file":
		if c.Capture.Dir == "" {
			errs = append(errs, errors.New("capture.dir is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capture.source %q", c.Capture.Source))
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid capture dimensions %dx%d", c.Capture.Width, c.Capture.Height))
	}

	if c.Stream.Quality < 0 || c.Stream.Quality > 1 {
		errs = append(errs, fmt.Errorf("stream.quality %.2f out of range [0,1]", c.Stream.Quality))
	}
	if c.Stream.FrameInterval <= 0 || c.Stream.TickInterval <= 0 {
		errs = append(errs, errors.New("stream intervals must be positive"))
	}
	if c.Stream.Policy != "arrival" && c.Stream.Policy != "send" {
		errs = append(errs, fmt.Errorf("unknown stream.policy %q (expected arrival or send)", c.Stream.Policy))
	}

	if c.Transport.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("transport.max_reconnect_attempts must not be negative"))
	}
	if c.Transport.ReconnectDelay < 0 {
		errs = append(errs, errors.New("transport.reconnect_delay must not be negative"))
	}

	return errors.Join(errs...)
}
