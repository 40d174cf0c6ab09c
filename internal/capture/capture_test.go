package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

func TestDefaultOptionsFollowStreamConfig(t *testing.T) {
	stream := types.DefaultStreamConfig()
	opts := DefaultOptions()

	assert.Equal(t, stream.Width, opts.Width)
	assert.Equal(t, stream.Height, opts.Height)
	assert.Equal(t, stream.AcquireTimeout, opts.AcquireTimeout)
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestPatternSourceLifecycle(t *testing.T) {
	src := NewPatternSource(Options{Width: 320, Height: 240})

	assert.Nil(t, src.Snapshot(), "no frame before acquire")
	assert.False(t, src.Active())

	require.NoError(t, src.Acquire(context.Background()))
	assert.True(t, src.Active())

	f1 := src.Snapshot()
	f2 := src.Snapshot()
	require.NotNil(t, f1)
	require.NotNil(t, f2)
	assert.Equal(t, 320, f1.Width)
	assert.Equal(t, 240, f1.Height)
	assert.Equal(t, image.Rect(0, 0, 320, 240), f1.Image.Bounds())
	assert.Equal(t, f1.Seq+1, f2.Seq)
	assert.False(t, f1.Empty())

	src.Release()
	src.Release()
	assert.False(t, src.Active())
	assert.Nil(t, src.Snapshot())
}

func TestPatternSourceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPatternSource(DefaultOptions()).Acquire(ctx)

	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, ReasonTimeout, acqErr.Reason)
}

func TestTestPatternBars(t *testing.T) {
	img := TestPattern(640, 480, "", -1)

	assert.Equal(t, barColors[0], img.RGBAAt(0, 0))
	assert.Equal(t, barColors[len(barColors)-1], img.RGBAAt(639, 0))
}

func TestFileSourceReplaysAndScales(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 64, 48, color.RGBA{G: 255, A: 255})
	writePNG(t, filepath.Join(dir, "a.png"), 32, 32, color.RGBA{R: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src := NewFileSource(dir, Options{Width: 160, Height: 120})
	require.NoError(t, src.Acquire(context.Background()))
	defer src.Release()

	first := src.Snapshot()
	second := src.Snapshot()
	third := src.Snapshot()
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, third)

	assert.Equal(t, image.Rect(0, 0, 160, 120), first.Image.Bounds())
	r, _, _, _ := first.Image.At(80, 60).RGBA()
	assert.Equal(t, uint32(0xffff), r, "a.png is replayed first")
	_, g, _, _ := second.Image.At(80, 60).RGBA()
	assert.Equal(t, uint32(0xffff), g)
	r, _, _, _ = third.Image.At(80, 60).RGBA()
	assert.Equal(t, uint32(0xffff), r, "replay loops")
	assert.Equal(t, uint64(3), third.Seq)
}

func TestFileSourceAcquisitionErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) string
		reason Reason
	}{
		{
			name:   "missing directory",
			setup:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent") },
			reason: ReasonAbsent,
		},
		{
			name:   "empty directory",
			setup:  func(t *testing.T) string { return t.TempDir() },
			reason: ReasonAbsent,
		},
		{
			name: "corrupt image",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(dir, "x.jpg"), []byte("not a jpeg"), 0o644))
				return dir
			},
			reason: ReasonInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewFileSource(tt.setup(t), DefaultOptions())
			err := src.Acquire(context.Background())

			var acqErr *AcquisitionError
			require.True(t, errors.As(err, &acqErr), "got %v", err)
			assert.Equal(t, tt.reason, acqErr.Reason)
			assert.False(t, src.Active())
			assert.Nil(t, src.Snapshot())
		})
	}
}

func TestWaitFirstFrameTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := waitFirstFrame(context.Background(), 20*time.Millisecond, func() (image.Image, error) {
		<-block
		return nil, nil
	})

	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, ReasonTimeout, acqErr.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitFirstFrameRejectsEmptyImage(t *testing.T) {
	_, err := waitFirstFrame(context.Background(), time.Second, func() (image.Image, error) {
		return image.NewRGBA(image.Rect(0, 0, 0, 0)), nil
	})

	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, ReasonInvalid, acqErr.Reason)
}

func TestAcquisitionErrorUnwrap(t *testing.T) {
	err := &AcquisitionError{Reason: ReasonPermission, Err: os.ErrPermission}

	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Contains(t, err.Error(), "permission")
}

func TestFitCopiesSameSize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.SetRGBA(1, 1, color.RGBA{B: 200, A: 255})

	dst := fit(src, 4, 4)
	src.SetRGBA(1, 1, color.RGBA{})

	assert.Equal(t, color.RGBA{B: 200, A: 255}, dst.RGBAAt(1, 1))
}
