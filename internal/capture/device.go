package capture

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"
)

var (
	errAcquireBusy     = errors.New("acquisition already in progress")
	errAcquireReleased = errors.New("released while acquiring")
)

// attempt tracks a device open that runs outside the owning source's lock.
// Its fields are guarded by that lock.
type attempt struct {
	epoch  uint64
	cancel context.CancelFunc
}

// begin starts a new attempt and returns its context and epoch.
func (a *attempt) begin(ctx context.Context) (context.Context, uint64, error) {
	if a.cancel != nil {
		return nil, 0, &AcquisitionError{Reason: ReasonAbsent, Err: errAcquireBusy}
	}
	a.epoch++
	actx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return actx, a.epoch, nil
}

// finish closes the attempt with the given epoch. It reports false when
// abort ran in the meantime and the result must be discarded.
func (a *attempt) finish(epoch uint64) bool {
	if a.cancel == nil || epoch != a.epoch {
		return false
	}
	a.cancel()
	a.cancel = nil
	return true
}

// abort cancels the attempt in progress, if any.
func (a *attempt) abort() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.epoch++
}

// Ownership of an opened device during openWithin.
const (
	deviceReading int32 = iota
	deviceReady
	deviceAbandoned
)

// openWithin waits for read to return the first frame of an opened device.
// On success the caller owns the device. On any error closeDev runs exactly
// once, possibly after openWithin returns when read is still blocked.
func openWithin(ctx context.Context, timeout time.Duration, read func(context.Context) (image.Image, error), closeDev func()) (image.Image, error) {
	var state atomic.Int32
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	img, err := waitFirstFrame(ctx, timeout, func() (image.Image, error) {
		img, err := read(readCtx)
		if err != nil {
			closeDev()
			return nil, err
		}
		if !state.CompareAndSwap(deviceReading, deviceReady) {
			closeDev()
		}
		return img, nil
	})
	if err == nil {
		return img, nil
	}

	// Either read is still running and will close on exit, or it already
	// finished and the device is ours to close.
	if !state.CompareAndSwap(deviceReading, deviceAbandoned) && state.Load() == deviceReady {
		closeDev()
	}
	return nil, err
}
