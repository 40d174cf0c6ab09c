//go:build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"gocv.io/x/gocv"
)

// candidateIndices are tried in order when no device index is configured.
var candidateIndices = []int{0, 1, 2}

// WebcamSource captures from a local camera through OpenCV.
type WebcamSource struct {
	device int
	opts   Options

	mu      sync.Mutex
	pending attempt
	webcam  *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
	active  bool
}

// NewWebcamSource creates a camera source. A negative device tries
// indices 0..2 and uses the first that yields a frame.
func NewWebcamSource(device int, opts Options) *WebcamSource {
	return &WebcamSource{
		device: device,
		opts:   opts.withDefaults(),
	}
}

// Acquire opens the camera and waits for a non-empty first frame. The
// device is opened without holding the source lock, so Release can cancel
// an acquisition that is still waiting on the camera.
func (s *WebcamSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	actx, epoch, err := s.pending.begin(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	webcam, mat, idx, err := s.open(actx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending.finish(epoch) {
		if err == nil {
			mat.Close()
			webcam.Close()
		}
		return &AcquisitionError{Reason: ReasonAbsent, Err: errAcquireReleased}
	}
	if err != nil {
		return err
	}

	s.webcam = webcam
	s.mat = mat
	s.seq = 0
	s.active = true
	logger.Info("Capture", "Camera %d active (%dx%d)", idx, s.opts.Width, s.opts.Height)
	return nil
}

// open tries the configured device, or each of candidateIndices, and returns
// the first camera that yields a frame.
func (s *WebcamSource) open(ctx context.Context) (*gocv.VideoCapture, gocv.Mat, int, error) {
	indices := candidateIndices
	if s.device >= 0 {
		indices = []int{s.device}
	}

	var lastErr error
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, gocv.Mat{}, 0, &AcquisitionError{Reason: ReasonTimeout, Err: err}
		}

		webcam, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			lastErr = err
			continue
		}
		if !webcam.IsOpened() {
			webcam.Close()
			lastErr = fmt.Errorf("camera %d did not open", idx)
			continue
		}

		webcam.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))
		webcam.Set(gocv.VideoCaptureBufferSize, 1)

		mat := gocv.NewMat()
		read := func(readCtx context.Context) (image.Image, error) {
			for readCtx.Err() == nil {
				if ok := webcam.Read(&mat); ok && !mat.Empty() {
					return mat.ToImage()
				}
				time.Sleep(10 * time.Millisecond)
			}
			return nil, readCtx.Err()
		}
		closeDev := func() {
			mat.Close()
			webcam.Close()
		}

		if _, err := openWithin(ctx, s.opts.AcquireTimeout, read, closeDev); err != nil {
			logger.Warn("Capture", "Camera %d produced no frame: %v", idx, err)
			lastErr = err
			var acqErr *AcquisitionError
			if errors.As(err, &acqErr) && acqErr.Reason == ReasonTimeout && len(indices) == 1 {
				return nil, gocv.Mat{}, 0, err
			}
			continue
		}
		return webcam, mat, idx, nil
	}

	return nil, gocv.Mat{}, 0, &AcquisitionError{Reason: ReasonAbsent, Err: lastErr}
}

// Release closes the camera and drops the frame buffer. An acquisition in
// progress is cancelled.
func (s *WebcamSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending.abort()
	if !s.active {
		return
	}
	s.active = false
	if s.webcam != nil {
		s.webcam.Close()
		s.webcam = nil
	}
	s.mat.Close()
	logger.Info("Capture", "Camera released")
}

// Snapshot reads the current camera frame, or nil when none is ready.
func (s *WebcamSource) Snapshot() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.webcam == nil {
		return nil
	}
	if ok := s.webcam.Read(&s.mat); !ok || s.mat.Empty() {
		return nil
	}

	img, err := s.mat.ToImage()
	if err != nil {
		logger.Debug("Capture", "Frame conversion failed: %v", err)
		return nil
	}

	s.seq++
	return &types.Frame{
		Image:     fit(img, s.opts.Width, s.opts.Height),
		Width:     s.opts.Width,
		Height:    s.opts.Height,
		Seq:       s.seq,
		Timestamp: time.Now(),
	}
}

// Active reports whether the camera is acquired.
func (s *WebcamSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
