// Package pacer drives capture, encode and send at a fixed target cadence.
package pacer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/encoder"
	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/metrics"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

// Policy selects when the in-flight guard is released.
type Policy int

const (
	// ClearOnArrival holds the guard until the response to the last frame
	// arrives, pacing sends to the service's round trip.
	ClearOnArrival Policy = iota
	// ClearOnSend releases the guard as soon as the frame is written.
	ClearOnSend
)

// ParsePolicy maps "arrival" and "send" to a Policy.
func ParsePolicy(s string) Policy {
	if s == "send" {
		return ClearOnSend
	}
	return ClearOnArrival
}

func (p Policy) String() string {
	if p == ClearOnSend {
		return "send"
	}
	return "arrival"
}

// Config controls the loop cadence.
type Config struct {
	TargetInterval  time.Duration // minimum spacing between capture cycles
	TickInterval    time.Duration // how often the step function is re-armed
	Quality         float64
	Policy          Policy
	InFlightTimeout time.Duration // force-release a guard held this long; 0 disables
}

// DefaultConfig returns the shared ~10 Hz cadence checked every 10ms.
func DefaultConfig() Config {
	d := types.DefaultStreamConfig()
	return Config{
		TargetInterval:  d.FrameInterval,
		TickInterval:    10 * time.Millisecond,
		Quality:         d.Quality,
		Policy:          ClearOnArrival,
		InFlightTimeout: 5 * time.Second,
	}
}

// Flags are the session flags the loop observes on every tick. They are
// shared by reference so the loop always sees the latest values.
type Flags struct {
	running   atomic.Bool
	connected atomic.Bool
}

func (f *Flags) SetRunning(v bool)   { f.running.Store(v) }
func (f *Flags) Running() bool       { return f.running.Load() }
func (f *Flags) SetConnected(v bool) { f.connected.Store(v) }
func (f *Flags) Connected() bool     { return f.connected.Load() }

// Snapshotter yields the current frame, or nil when none is ready.
type Snapshotter interface {
	Snapshot() *types.Frame
}

// Sender transmits an encoded payload, reporting whether it was written.
type Sender interface {
	Send(payload string) bool
}

// Outcome describes what a single step did.
type Outcome int

const (
	Idle Outcome = iota
	Throttled
	Busy
	NoFrame
	EncodeFailed
	SendFailed
	Sent
)

var outcomeNames = map[Outcome]string{
	Idle:         "idle",
	Throttled:    "throttled",
	Busy:         "busy",
	NoFrame:      "no-frame",
	EncodeFailed: "encode-failed",
	SendFailed:   "send-failed",
	Sent:         "sent",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Loop is the pacing loop. Steps never overlap: they run on a single
// goroutine and are additionally serialized by the in-flight guard.
type Loop struct {
	cfg     Config
	flags   *Flags
	src     Snapshotter
	enc     encoder.Encoder
	out     Sender
	metrics *metrics.Metrics

	// OnFPS receives every published frame rate. Set before Start.
	OnFPS func(fps int)

	mu            sync.Mutex
	lastTick      time.Time
	inFlight      bool
	inFlightSince time.Time
	lastSendAt    time.Time
	frameCount    int
	sampleStart   time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped loop. m may be nil.
func New(cfg Config, flags *Flags, src Snapshotter, enc encoder.Encoder, out Sender, m *metrics.Metrics) *Loop {
	d := DefaultConfig()
	if cfg.TargetInterval <= 0 {
		cfg.TargetInterval = d.TargetInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = d.TickInterval
	}
	return &Loop{
		cfg:     cfg,
		flags:   flags,
		src:     src,
		enc:     enc,
		out:     out,
		metrics: m,
	}
}

// Step runs one pacing tick at time now.
func (l *Loop) Step(ctx context.Context, now time.Time) Outcome {
	if !l.flags.Running() || !l.flags.Connected() {
		return Idle
	}

	l.mu.Lock()
	if !l.lastTick.IsZero() && now.Sub(l.lastTick) < l.cfg.TargetInterval {
		l.mu.Unlock()
		return Throttled
	}
	if l.inFlight {
		if l.cfg.InFlightTimeout > 0 && now.Sub(l.inFlightSince) >= l.cfg.InFlightTimeout {
			logger.Warn("Pacer", "No response for %v, releasing in-flight guard", now.Sub(l.inFlightSince))
			l.inFlight = false
		} else {
			l.mu.Unlock()
			return Busy
		}
	}
	l.lastTick = now
	l.inFlight = true
	l.inFlightSince = now
	l.mu.Unlock()

	frame := l.src.Snapshot()
	if frame == nil {
		l.release()
		l.metrics.FrameSkipped()
		return NoFrame
	}
	l.metrics.FrameCaptured()

	start := time.Now()
	encoded, err := l.enc.Encode(ctx, frame, l.cfg.Quality)
	if err != nil {
		l.release()
		if ctx.Err() == nil {
			logger.Warn("Pacer", "Encode frame %d failed: %v", frame.Seq, err)
		}
		return EncodeFailed
	}
	l.metrics.UpdateEncodeLatency(time.Since(start), encoded.Size())

	if ctx.Err() != nil {
		l.release()
		return EncodeFailed
	}

	if !l.out.Send(encoded.Base64()) {
		l.release()
		l.metrics.SendFailed()
		return SendFailed
	}
	l.metrics.FrameSent()

	fps := -1
	l.mu.Lock()
	l.lastSendAt = now
	l.frameCount++
	if l.sampleStart.IsZero() {
		l.sampleStart = now
	}
	if elapsed := now.Sub(l.sampleStart); elapsed >= time.Second {
		fps = int(math.Round(float64(l.frameCount) * float64(time.Second) / float64(elapsed)))
		l.frameCount = 0
		l.sampleStart = now
	}
	if l.cfg.Policy == ClearOnSend {
		l.inFlight = false
	}
	l.mu.Unlock()

	if fps >= 0 {
		l.metrics.SetFPS(fps)
		if l.OnFPS != nil {
			l.OnFPS(fps)
		}
	}
	return Sent
}

func (l *Loop) release() {
	l.mu.Lock()
	l.inFlight = false
	l.mu.Unlock()
}

// Arrived signals that a response was received. Under ClearOnArrival it
// releases the in-flight guard.
func (l *Loop) Arrived() {
	l.mu.Lock()
	sentAt := l.lastSendAt
	if l.cfg.Policy == ClearOnArrival {
		l.inFlight = false
	}
	l.mu.Unlock()

	l.metrics.UpdateRoundTrip(sentAt)
}

// Reset releases the in-flight guard. Used when the connection opens or
// closes so a response lost with the old socket cannot stall the loop.
func (l *Loop) Reset() {
	l.release()
}

// InFlight reports whether a cycle is awaiting completion.
func (l *Loop) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *Loop) resetCounters(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastTick = time.Time{}
	l.inFlight = false
	l.lastSendAt = time.Time{}
	l.frameCount = 0
	l.sampleStart = now
}

// Start installs a fresh schedule. It is a no-op if the loop is already running.
func (l *Loop) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.resetCounters(time.Now())

	logger.Debug("Pacer", "Loop started (target %v, tick %v, policy %s)",
		l.cfg.TargetInterval, l.cfg.TickInterval, l.cfg.Policy)
	go l.run(ctx, done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		l.Step(ctx, time.Now())
		timer.Reset(l.cfg.TickInterval)
	}
}

// Stop cancels the schedule and waits for any in-progress step to return.
// No capture or send happens after Stop returns.
func (l *Loop) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
	logger.Debug("Pacer", "Loop stopped")
}

// Running reports whether a schedule is installed.
func (l *Loop) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.cancel != nil
}
