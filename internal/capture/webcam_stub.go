//go:build !gocv

package capture

import (
	"context"
	"errors"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

// WebcamSource is unavailable without the gocv build tag.
type WebcamSource struct {
	device int
}

// NewWebcamSource returns a source whose Acquire always fails.
func NewWebcamSource(device int, _ Options) *WebcamSource {
	return &WebcamSource{device: device}
}

func (s *WebcamSource) Acquire(context.Context) error {
	return &AcquisitionError{
		Reason: ReasonAbsent,
		Err:    errors.New("webcam support not compiled in (build with -tags gocv)"),
	}
}

func (s *WebcamSource) Release() {}

func (s *WebcamSource) Snapshot() *types.Frame { return nil }

func (s *WebcamSource) Active() bool { return false }
