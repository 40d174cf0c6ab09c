// Package capture provides the live frame sources the streaming session
// pulls snapshots from.
package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

// Source is a live video input that yields raw frames on demand.
type Source interface {
	// Acquire opens the device and blocks until the first frame with
	// non-zero dimensions is available or the acquire timeout elapses.
	Acquire(ctx context.Context) error
	// Release stops the device and clears any buffered frame. Idempotent.
	Release()
	// Snapshot returns the current frame, or nil when none is ready.
	Snapshot() *types.Frame
	// Active reports whether the device is acquired.
	Active() bool
}

// Reason classifies acquisition failures.
type Reason string

const (
	ReasonPermission Reason = "permission"
	ReasonAbsent     Reason = "absent"
	ReasonTimeout    Reason = "timeout"
	ReasonInvalid    Reason = "invalid"
)

// AcquisitionError is returned when a device cannot be started.
type AcquisitionError struct {
	Reason Reason
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture acquisition failed (%s)", e.Reason)
	}
	return fmt.Sprintf("capture acquisition failed (%s): %v", e.Reason, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the operator when the camera cannot be used.
const UserMessage = "could not access the camera, please check the device permissions"

// Options are the parameters shared by every source.
type Options struct {
	Width          int
	Height         int
	AcquireTimeout time.Duration
}

// DefaultOptions returns the shared stream dimensions and acquire bound.
func DefaultOptions() Options {
	d := types.DefaultStreamConfig()
	return Options{
		Width:          d.Width,
		Height:         d.Height,
		AcquireTimeout: d.AcquireTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = d.AcquireTimeout
	}
	return o
}

// waitFirstFrame runs read until it yields an image with non-zero
// dimensions, bounded by timeout and ctx. The read goroutine is abandoned
// on timeout; it must tolerate the device being released underneath it.
func waitFirstFrame(ctx context.Context, timeout time.Duration, read func() (image.Image, error)) (image.Image, error) {
	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)

	go func() {
		img, err := read()
		done <- result{img, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.img == nil || r.img.Bounds().Dx() == 0 || r.img.Bounds().Dy() == 0 {
			return nil, &AcquisitionError{Reason: ReasonInvalid, Err: fmt.Errorf("first frame has no dimensions")}
		}
		return r.img, nil
	case <-timer.C:
		return nil, &AcquisitionError{Reason: ReasonTimeout, Err: fmt.Errorf("no frame within %v", timeout)}
	case <-ctx.Done():
		return nil, &AcquisitionError{Reason: ReasonTimeout, Err: ctx.Err()}
	}
}
