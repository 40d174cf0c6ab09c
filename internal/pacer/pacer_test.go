package pacer

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/encoder"
	"github.com/drowsiness-detection/streaming-client/internal/metrics"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	empty bool
}

func (s *fakeSource) Snapshot() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.empty {
		return nil
	}
	return &types.Frame{
		Image:  image.NewRGBA(image.Rect(0, 0, 16, 16)),
		Width:  16,
		Height: 16,
		Seq:    uint64(s.calls),
	}
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	refuse bool
}

func (s *fakeSender) Send(payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.sent = append(s.sent, payload)
	return true
}

func (s *fakeSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type failingEncoder struct{}

func (failingEncoder) Encode(context.Context, *types.Frame, float64) (*types.EncodedFrame, error) {
	return nil, errors.New("boom")
}

func newTestLoop(policy Policy) (*Loop, *Flags, *fakeSource, *fakeSender) {
	flags := &Flags{}
	flags.SetRunning(true)
	flags.SetConnected(true)
	src := &fakeSource{}
	out := &fakeSender{}
	cfg := DefaultConfig()
	cfg.Policy = policy
	return New(cfg, flags, src, encoder.NewJPEGEncoder(), out, nil), flags, src, out
}

func TestStepIdleWhenNotRunningOrConnected(t *testing.T) {
	loop, flags, src, _ := newTestLoop(ClearOnSend)
	now := time.Now()

	flags.SetConnected(false)
	assert.Equal(t, Idle, loop.Step(context.Background(), now))

	flags.SetConnected(true)
	flags.SetRunning(false)
	assert.Equal(t, Idle, loop.Step(context.Background(), now))
	assert.Zero(t, src.Calls())

	// Resumes on the next tick once both flags are set again.
	flags.SetRunning(true)
	assert.Equal(t, Sent, loop.Step(context.Background(), now))
}

func TestStepThrottle(t *testing.T) {
	loop, _, _, out := newTestLoop(ClearOnSend)
	t0 := time.Now()

	var sentAt []time.Duration
	for ms := range 1000 {
		offset := time.Duration(ms) * time.Millisecond
		if loop.Step(context.Background(), t0.Add(offset)) == Sent {
			sentAt = append(sentAt, offset)
		}
	}

	require.Len(t, sentAt, 10)
	assert.Equal(t, 10, out.Count())
	for i := 1; i < len(sentAt); i++ {
		assert.GreaterOrEqual(t, sentAt[i]-sentAt[i-1], 100*time.Millisecond)
	}
}

func TestStepReentrancyGuardArrivalGated(t *testing.T) {
	loop, _, src, out := newTestLoop(ClearOnArrival)
	t0 := time.Now()

	require.Equal(t, Sent, loop.Step(context.Background(), t0))
	assert.True(t, loop.InFlight())

	// The response is slower than several target intervals.
	for i := 1; i <= 5; i++ {
		assert.Equal(t, Busy, loop.Step(context.Background(), t0.Add(time.Duration(i)*100*time.Millisecond)))
	}
	assert.Equal(t, 1, src.Calls())
	assert.Equal(t, 1, out.Count())

	loop.Arrived()
	assert.False(t, loop.InFlight())
	assert.Equal(t, Sent, loop.Step(context.Background(), t0.Add(600*time.Millisecond)))
	assert.Equal(t, 2, src.Calls())
}

func TestStepClearOnSendIgnoresArrival(t *testing.T) {
	loop, _, src, _ := newTestLoop(ClearOnSend)
	t0 := time.Now()

	require.Equal(t, Sent, loop.Step(context.Background(), t0))
	assert.False(t, loop.InFlight())
	assert.Equal(t, Sent, loop.Step(context.Background(), t0.Add(100*time.Millisecond)))
	assert.Equal(t, 2, src.Calls())
}

func TestStepInFlightTimeout(t *testing.T) {
	loop, _, _, _ := newTestLoop(ClearOnArrival)
	t0 := time.Now()

	require.Equal(t, Sent, loop.Step(context.Background(), t0))
	assert.Equal(t, Busy, loop.Step(context.Background(), t0.Add(4*time.Second)))
	assert.Equal(t, Sent, loop.Step(context.Background(), t0.Add(5*time.Second)))
}

func TestStepResetReleasesGuard(t *testing.T) {
	loop, _, _, _ := newTestLoop(ClearOnArrival)
	t0 := time.Now()

	require.Equal(t, Sent, loop.Step(context.Background(), t0))
	loop.Reset()
	assert.Equal(t, Sent, loop.Step(context.Background(), t0.Add(100*time.Millisecond)))
}

func TestStepNoFrameIsNotAnError(t *testing.T) {
	loop, _, src, out := newTestLoop(ClearOnArrival)
	m := metrics.New()
	loop.metrics = m
	src.empty = true
	t0 := time.Now()

	assert.Equal(t, NoFrame, loop.Step(context.Background(), t0))
	assert.False(t, loop.InFlight())
	assert.Zero(t, out.Count())
	assert.Equal(t, uint64(1), m.FramesSkipped.Load())

	src.empty = false
	assert.Equal(t, Sent, loop.Step(context.Background(), t0.Add(100*time.Millisecond)))
}

func TestStepSendRefused(t *testing.T) {
	loop, _, _, out := newTestLoop(ClearOnArrival)
	out.refuse = true

	assert.Equal(t, SendFailed, loop.Step(context.Background(), time.Now()))
	assert.False(t, loop.InFlight(), "a refused frame gets no response, so the guard is released")
}

func TestStepEncodeFailure(t *testing.T) {
	loop, _, _, out := newTestLoop(ClearOnArrival)
	loop.enc = failingEncoder{}

	assert.Equal(t, EncodeFailed, loop.Step(context.Background(), time.Now()))
	assert.False(t, loop.InFlight())
	assert.Zero(t, out.Count())
}

func TestFPSCounter(t *testing.T) {
	loop, _, _, _ := newTestLoop(ClearOnSend)
	var published []int
	loop.OnFPS = func(fps int) { published = append(published, fps) }

	t0 := time.Now()
	loop.resetCounters(t0)
	for i := 1; i <= 10; i++ {
		require.Equal(t, Sent, loop.Step(context.Background(), t0.Add(time.Duration(i)*100*time.Millisecond)))
	}

	assert.Equal(t, []int{10}, published)
}

func TestStepPayloadIsBase64JPEG(t *testing.T) {
	loop, _, _, out := newTestLoop(ClearOnSend)
	require.Equal(t, Sent, loop.Step(context.Background(), time.Now()))

	out.mu.Lock()
	defer out.mu.Unlock()
	// "/9j/" is the base64 form of the JPEG SOI marker.
	assert.Equal(t, "/9j/", out.sent[0][:4])
}

func TestLoopStartStop(t *testing.T) {
	loop, flags, src, out := newTestLoop(ClearOnSend)
	loop.cfg.TargetInterval = 20 * time.Millisecond
	loop.cfg.TickInterval = time.Millisecond

	loop.Start(context.Background())
	loop.Start(context.Background())
	assert.True(t, loop.Running())

	require.Eventually(t, func() bool { return out.Count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	loop.Stop()
	assert.False(t, loop.Running())
	calls := src.Calls()
	sent := out.Count()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, src.Calls(), "no capture after Stop returns")
	assert.Equal(t, sent, out.Count(), "no send after Stop returns")

	loop.Stop()

	// A fresh schedule resumes sending.
	flags.SetRunning(true)
	loop.Start(context.Background())
	defer loop.Stop()
	require.Eventually(t, func() bool { return out.Count() > sent }, 2*time.Second, 5*time.Millisecond)
}

func TestLoopStopsWithContext(t *testing.T) {
	loop, _, _, _ := newTestLoop(ClearOnSend)
	ctx, cancel := context.WithCancel(context.Background())

	loop.Start(ctx)
	cancel()
	loop.Stop()
	assert.False(t, loop.Running())
}

func TestDefaultConfigFollowsStreamConfig(t *testing.T) {
	stream := types.DefaultStreamConfig()
	cfg := DefaultConfig()

	assert.Equal(t, stream.FrameInterval, cfg.TargetInterval)
	assert.Equal(t, stream.Quality, cfg.Quality)
	assert.Equal(t, encoder.DefaultQuality, cfg.Quality)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, ClearOnSend, ParsePolicy("send"))
	assert.Equal(t, ClearOnArrival, ParsePolicy("arrival"))
	assert.Equal(t, ClearOnArrival, ParsePolicy(""))
	assert.Equal(t, "sent", Sent.String())
}
