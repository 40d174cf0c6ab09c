package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// TestPattern renders vertical color bars with a caption strip at the
// bottom. A non-negative marker draws a square whose horizontal position
// advances with the value.
func TestPattern(width, height int, caption string, marker int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	barWidth := width / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := range height {
		for x := range width {
			idx := x / barWidth
			if idx >= len(barColors) {
				idx = len(barColors) - 1
			}
			img.SetRGBA(x, y, barColors[idx])
		}
	}

	if marker >= 0 {
		const size = 24
		span := width - size
		if span > 0 {
			left := (marker * 8) % span
			top := height/2 - size/2
			grey := color.RGBA{R: 128, G: 128, B: 128, A: 255}
			for y := top; y < top+size && y < height; y++ {
				for x := left; x < left+size; x++ {
					img.SetRGBA(x, y, grey)
				}
			}
		}
	}

	if caption != "" {
		face := basicfont.Face7x13
		strip := face.Height + 8
		for y := height - strip; y < height; y++ {
			if y < 0 {
				continue
			}
			for x := range width {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(8, height-strip/2+face.Ascent/2),
		}
		d.DrawString(caption)
	}

	return img
}

// PatternSource produces synthetic frames so the client can run without a
// camera attached.
type PatternSource struct {
	opts Options

	mu     sync.Mutex
	active bool
	seq    uint64
	now    func() time.Time
}

// NewPatternSource creates a synthetic source at the given dimensions.
func NewPatternSource(opts Options) *PatternSource {
	return &PatternSource{
		opts: opts.withDefaults(),
		now:  time.Now,
	}
}

// Acquire marks the source active. It fails only if ctx is already done.
func (s *PatternSource) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &AcquisitionError{Reason: ReasonTimeout, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.seq = 0
	logger.Info("Capture", "Test pattern source active (%dx%d)", s.opts.Width, s.opts.Height)
	return nil
}

// Release deactivates the source.
func (s *PatternSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		logger.Debug("Capture", "Test pattern source released after %d frames", s.seq)
	}
	s.active = false
}

// Snapshot renders the next pattern frame, or nil when released.
func (s *PatternSource) Snapshot() *types.Frame {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	seq := s.seq
	ts := s.now()
	s.mu.Unlock()

	img := TestPattern(s.opts.Width, s.opts.Height, ts.Format("15:04:05.000"), int(seq))
	return &types.Frame{
		Image:     img,
		Width:     s.opts.Width,
		Height:    s.opts.Height,
		Seq:       seq,
		Timestamp: ts,
	}
}

// Active reports whether the source is acquired.
func (s *PatternSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
