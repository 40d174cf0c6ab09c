package types

import (
	"encoding/base64"
	"image"
	"time"
)

// Frame represents a single captured camera sample
type Frame struct {
	Image     image.Image // Pixels at the target dimensions
	Width     int         // Frame width
	Height    int         // Frame height
	Seq       uint64      // Sequential frame number
	Timestamp time.Time   // Capture timestamp
}

// Empty reports whether the frame carries no usable pixels
func (f *Frame) Empty() bool {
	return f == nil || f.Image == nil || f.Width <= 0 || f.Height <= 0
}

// EncodedFrame is a compressed frame ready for transmission
type EncodedFrame struct {
	Data       []byte    // JPEG bytes
	Quality    float64   // Compression parameter in [0,1]
	Seq        uint64    // Sequence number of the source frame
	CapturedAt time.Time // Capture timestamp of the source frame
}

// Base64 returns the wire payload: the raw encoded bytes as a base64 string, no envelope
func (e *EncodedFrame) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// Size returns the encoded payload size in bytes
func (e *EncodedFrame) Size() int {
	return len(e.Data)
}

// StreamConfig holds the capture and pacing parameters shared by the components
type StreamConfig struct {
	Width          int           // Target frame width (e.g., 640)
	Height         int           // Target frame height (e.g., 480)
	Quality        float64       // JPEG quality in [0,1]
	FrameInterval  time.Duration // Target interval between sends (e.g., 100ms)
	AcquireTimeout time.Duration // Bound on device acquisition
}

// DefaultStreamConfig returns the parameters used by the browser client.
// Configuration, capture and pacing defaults all derive from it.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Width:          640,
		Height:         480,
		Quality:        0.8,
		FrameInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
	}
}
