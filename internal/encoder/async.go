package encoder

import (
	"context"
	"errors"
	"sync"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

// ErrClosed is returned by an AsyncEncoder after Close.
var ErrClosed = errors.New("encoder: closed")

type job struct {
	ctx     context.Context
	frame   *types.Frame
	quality float64
	result  chan result
}

type result struct {
	frame *types.EncodedFrame
	err   error
}

// AsyncEncoder runs a wrapped Encoder on a dedicated worker goroutine.
// Callers block until the encode completes or their context is done; an
// abandoned encode finishes in the background and its result is dropped.
type AsyncEncoder struct {
	inner Encoder
	jobs  chan job

	once   sync.Once
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncEncoder starts a worker around inner.
func NewAsyncEncoder(inner Encoder) *AsyncEncoder {
	a := &AsyncEncoder{
		inner: inner,
		jobs:  make(chan job, 1),
		done:  make(chan struct{}),
	}
	go a.worker()
	return a
}

func (a *AsyncEncoder) worker() {
	defer close(a.done)
	for j := range a.jobs {
		if err := j.ctx.Err(); err != nil {
			j.result <- result{err: err}
			continue
		}
		ef, err := a.inner.Encode(j.ctx, j.frame, j.quality)
		j.result <- result{frame: ef, err: err}
	}
}

// Encode submits f to the worker and waits for the result.
func (a *AsyncEncoder) Encode(ctx context.Context, f *types.Frame, quality float64) (*types.EncodedFrame, error) {
	j := job{ctx: ctx, frame: f, quality: quality, result: make(chan result, 1)}

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case a.jobs <- j:
		a.mu.RUnlock()
	case <-ctx.Done():
		a.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-j.result:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker after queued jobs drain.
func (a *AsyncEncoder) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.jobs)
		a.mu.Unlock()
		<-a.done
	})
}
