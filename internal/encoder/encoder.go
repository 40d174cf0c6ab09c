// Package encoder compresses captured frames for transmission.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"math"
	"sync"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

// DefaultQuality matches the browser client's JPEG quality.
var DefaultQuality = types.DefaultStreamConfig().Quality

// ErrEmptyFrame is returned for frames without pixels.
var ErrEmptyFrame = errors.New("encoder: empty frame")

// Encoder turns a frame snapshot into a compressed payload.
type Encoder interface {
	Encode(ctx context.Context, f *types.Frame, quality float64) (*types.EncodedFrame, error)
}

// JPEGEncoder produces baseline JPEG. It is safe for concurrent use.
type JPEGEncoder struct {
	bufPool sync.Pool
}

// NewJPEGEncoder creates a JPEG encoder with pooled output buffers.
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{
		bufPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// JPEGQuality maps a [0,1] quality to the 1..100 JPEG scale, clamping out of range values.
func JPEGQuality(q float64) int {
	if math.IsNaN(q) || q <= 0 {
		return 1
	}
	if q >= 1 {
		return 100
	}
	v := int(math.Round(q * 100))
	if v < 1 {
		v = 1
	}
	return v
}

// Encode compresses f. The frame is neither mutated nor retained.
func (e *JPEGEncoder) Encode(ctx context.Context, f *types.Frame, quality float64) (*types.EncodedFrame, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := e.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.bufPool.Put(buf)

	if err := jpeg.Encode(buf, f.Image, &jpeg.Options{Quality: JPEGQuality(quality)}); err != nil {
		return nil, fmt.Errorf("jpeg encode frame %d: %w", f.Seq, err)
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	return &types.EncodedFrame{
		Data:       data,
		Quality:    quality,
		Seq:        f.Seq,
		CapturedAt: f.Timestamp,
	}, nil
}
