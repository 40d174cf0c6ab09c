package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(seq uint64) *types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return &types.Frame{Image: img, Width: 64, Height: 48, Seq: seq, Timestamp: time.Unix(1700000000, 0)}
}

func TestJPEGQuality(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-1, 1},
		{0, 1},
		{0.004, 1},
		{0.8, 80},
		{1, 100},
		{3, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JPEGQuality(tt.in), "quality %v", tt.in)
	}
}

func TestJPEGEncoderProducesDecodableJPEG(t *testing.T) {
	enc := NewJPEGEncoder()
	frame := testFrame(7)

	ef, err := enc.Encode(context.Background(), frame, DefaultQuality)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), ef.Seq)
	assert.Equal(t, frame.Timestamp, ef.CapturedAt)
	assert.Equal(t, DefaultQuality, ef.Quality)
	assert.Equal(t, []byte{0xFF, 0xD8}, ef.Data[:2], "JPEG SOI marker")

	img, err := jpeg.Decode(bytes.NewReader(ef.Data))
	require.NoError(t, err)
	assert.Equal(t, frame.Image.Bounds(), img.Bounds())

	raw, err := base64.StdEncoding.DecodeString(ef.Base64())
	require.NoError(t, err)
	assert.Equal(t, ef.Data, raw)
}

func TestJPEGEncoderDeterministic(t *testing.T) {
	enc := NewJPEGEncoder()
	frame := testFrame(1)

	a, err := enc.Encode(context.Background(), frame, 0.5)
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), frame, 0.5)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	low, err := enc.Encode(context.Background(), frame, 0.1)
	require.NoError(t, err)
	assert.Less(t, low.Size(), a.Size())
}

func TestJPEGEncoderRejectsEmptyFrame(t *testing.T) {
	enc := NewJPEGEncoder()

	_, err := enc.Encode(context.Background(), nil, DefaultQuality)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = enc.Encode(context.Background(), &types.Frame{}, DefaultQuality)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestAsyncEncoder(t *testing.T) {
	async := NewAsyncEncoder(NewJPEGEncoder())
	defer async.Close()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			ef, err := async.Encode(context.Background(), testFrame(seq), DefaultQuality)
			assert.NoError(t, err)
			if ef != nil {
				assert.Equal(t, seq, ef.Seq)
			}
		}(uint64(i))
	}
	wg.Wait()
}

type blockingEncoder struct {
	release chan struct{}
}

func (b *blockingEncoder) Encode(ctx context.Context, f *types.Frame, q float64) (*types.EncodedFrame, error) {
	<-b.release
	return &types.EncodedFrame{Seq: f.Seq}, nil
}

func TestAsyncEncoderAbandonOnCancel(t *testing.T) {
	inner := &blockingEncoder{release: make(chan struct{})}
	async := NewAsyncEncoder(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := async.Encode(ctx, testFrame(1), DefaultQuality)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(inner.release)
	async.Close()

	_, err = async.Encode(context.Background(), testFrame(2), DefaultQuality)
	assert.ErrorIs(t, err, ErrClosed)
}
