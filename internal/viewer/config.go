package viewer

import "time"

// Config defines the runtime configuration for the local viewer.
type Config struct {
	Addr              string
	StatusInterval    time.Duration // status SSE re-send period when nothing changes
	MJPEGInterval     time.Duration
	KeepaliveInterval time.Duration
	PlaceholderWidth  int
	PlaceholderHeight int
}

// DefaultConfig returns the viewer defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8090",
		StatusInterval:    2 * time.Second,
		MJPEGInterval:     100 * time.Millisecond,
		KeepaliveInterval: 30 * time.Second,
		PlaceholderWidth:  640,
		PlaceholderHeight: 480,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = d.MJPEGInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.PlaceholderWidth <= 0 || c.PlaceholderHeight <= 0 {
		c.PlaceholderWidth = d.PlaceholderWidth
		c.PlaceholderHeight = d.PlaceholderHeight
	}
	return c
}
