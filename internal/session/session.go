// Package session orchestrates one streaming run: it owns the capture
// source, the transport channel and the pacing loop, and exposes a single
// consistent state snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/capture"
	"github.com/drowsiness-detection/streaming-client/internal/encoder"
	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/metrics"
	"github.com/drowsiness-detection/streaming-client/internal/pacer"
	"github.com/drowsiness-detection/streaming-client/internal/transport"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active or starting.
	ErrAlreadyRunning = errors.New("session: already running")
	// ErrStopped is returned by Start when Stop interrupted it.
	ErrStopped = errors.New("session: stopped during start")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session: closed")
)

// User-visible error texts.
const (
	CameraErrorMessage     = capture.UserMessage
	ConnectionErrorMessage = "connection error with the analysis server"
)

// Channel is the transport surface the session drives.
type Channel interface {
	Connect(ctx context.Context, h transport.Handlers) error
	Send(payload string) bool
	Disconnect()
}

// Config controls a session.
type Config struct {
	Pacer              pacer.Config
	StabilizationDelay time.Duration // wait after start before the first capture
	Metrics            *metrics.Metrics
}

// DefaultConfig returns the pacing defaults with a 500ms stabilization window.
func DefaultConfig() Config {
	return Config{
		Pacer:              pacer.DefaultConfig(),
		StabilizationDelay: 500 * time.Millisecond,
	}
}

// State is a point-in-time view of the session.
type State struct {
	SessionID       string                `json:"session_id,omitempty"`
	IsRunning       bool                  `json:"is_running"`
	IsConnected     bool                  `json:"is_connected"`
	IsCameraActive  bool                  `json:"is_camera_active"`
	ChannelState    string                `json:"channel_state"`
	CurrentError    string                `json:"current_error,omitempty"`
	LastMessage     *types.InboundMessage `json:"-"`
	FramesPerSecond int                   `json:"fps"`
	OriginalImage   string                `json:"-"` // base64 JPEG shown as the input panel
	SketchImage     string                `json:"-"` // base64 JPEG shown as the annotated panel
	MessageSeq      uint64                `json:"message_seq"`
}

func initialState() State {
	return State{ChannelState: transport.Disconnected.String()}
}

// Session owns one capture source and one channel at a time.
type Session struct {
	ctx     context.Context
	src     capture.Source
	ch      Channel
	cfg     Config
	metrics *metrics.Metrics
	flags   *pacer.Flags
	loop    *pacer.Loop

	// lifeMu orders teardown against the start of the next run. It is
	// always taken before mu.
	lifeMu sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped by Start and Stop; callbacks from older runs are ignored
	starting  bool
	closed    bool
	stabilize *time.Timer

	subsMu sync.Mutex
	subs   map[int]chan State
	nextID int

	closeOnce sync.Once
	stopAfter func() bool
}

// New creates an idle session. The session is torn down automatically when
// parent is done.
func New(parent context.Context, src capture.Source, enc encoder.Encoder, ch Channel, cfg Config) *Session {
	if cfg.StabilizationDelay < 0 {
		cfg.StabilizationDelay = 0
	}

	flags := &pacer.Flags{}
	s := &Session{
		ctx:     context.WithoutCancel(parent),
		src:     src,
		ch:      ch,
		cfg:     cfg,
		metrics: cfg.Metrics,
		flags:   flags,
		state:   initialState(),
		subs:    make(map[int]chan State),
	}
	s.loop = pacer.New(cfg.Pacer, flags, src, enc, ch, cfg.Metrics)
	s.loop.OnFPS = s.setFPS
	s.stopAfter = context.AfterFunc(parent, func() {
		logger.Info("Session", "Owner context done, tearing down")
		s.Close()
	})
	return s
}

// Start acquires the capture source, opens the channel and arms the
// pacing loop after the stabilization delay. On failure the error is also
// recorded in the state and the session is left stopped.
func (s *Session) Start(ctx context.Context) error {
	// Wait for a teardown in progress so it cannot release this run's resources.
	s.lifeMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.lifeMu.Unlock()
		return ErrClosed
	}
	if s.state.IsRunning || s.starting {
		s.mu.Unlock()
		s.lifeMu.Unlock()
		return ErrAlreadyRunning
	}
	s.gen++
	gen := s.gen
	s.starting = true
	s.state = initialState()
	s.state.SessionID = uuid.NewString()
	id := s.state.SessionID
	s.mu.Unlock()
	s.lifeMu.Unlock()

	s.metrics.SetFPS(0)
	s.publish()
	logger.Info("Session", "[%s] Starting", id)

	if err := s.src.Acquire(ctx); err != nil {
		logger.Error("Session", "[%s] Capture unavailable: %v", id, err)
		s.fail(gen, CameraErrorMessage)
		return fmt.Errorf("acquire capture: %w", err)
	}
	if !s.update(gen, func(st *State) { st.IsCameraActive = true }) {
		s.src.Release()
		return ErrStopped
	}

	if err := s.ch.Connect(ctx, s.handlers(gen)); err != nil {
		logger.Error("Session", "[%s] Channel unavailable: %v", id, err)
		s.ch.Disconnect()
		s.src.Release()
		s.fail(gen, ConnectionErrorMessage)
		return fmt.Errorf("open channel: %w", err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.ch.Disconnect()
		s.src.Release()
		return ErrStopped
	}
	s.starting = false
	s.state.IsRunning = true
	s.flags.SetRunning(true)
	s.stabilize = time.AfterFunc(s.cfg.StabilizationDelay, func() { s.armLoop(gen) })
	s.mu.Unlock()

	s.publish()
	logger.Info("Session", "[%s] Running, first capture in %v", id, s.cfg.StabilizationDelay)
	return nil
}

// armLoop starts the pacing loop for run gen. Holding lifeMu keeps a
// concurrent Stop from interleaving; mu is not held while the loop starts
// because loop steps take it to publish the frame rate.
func (s *Session) armLoop(gen uint64) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	current := gen == s.gen && s.state.IsRunning
	if current {
		s.stabilize = nil
	}
	s.mu.Unlock()

	if current {
		s.loop.Start(s.ctx)
	}
}

// fail records a start failure for run gen and leaves the session stopped.
func (s *Session) fail(gen uint64, message string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.starting = false
	s.state.IsRunning = false
	s.state.IsCameraActive = false
	s.state.IsConnected = false
	s.state.CurrentError = message
	s.flags.SetRunning(false)
	s.flags.SetConnected(false)
	s.mu.Unlock()

	s.publish()
}

// update applies fn to the state if gen is still the current run.
func (s *Session) update(gen uint64, fn func(*State)) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	s.mu.Unlock()

	s.publish()
	return true
}

func (s *Session) handlers(gen uint64) transport.Handlers {
	return transport.Handlers{
		OnMessage: func(msg types.InboundMessage) {
			s.onMessage(gen, msg)
		},
		OnError: func(err error) {
			logger.Warn("Session", "Channel error: %v", err)
			s.update(gen, func(st *State) {
				st.CurrentError = ConnectionErrorMessage
				st.IsConnected = false
				s.flags.SetConnected(false)
			})
		},
		OnOpen: func() {
			updated := s.update(gen, func(st *State) {
				st.IsConnected = true
				st.CurrentError = ""
				s.flags.SetConnected(true)
			})
			if updated {
				s.loop.Reset()
			}
		},
		OnClose: func() {
			updated := s.update(gen, func(st *State) {
				st.IsConnected = false
				s.flags.SetConnected(false)
			})
			if updated {
				s.loop.Reset()
			}
		},
		OnState: func(cs transport.State) {
			s.update(gen, func(st *State) { st.ChannelState = cs.String() })
		},
	}
}

func (s *Session) onMessage(gen uint64, msg types.InboundMessage) {
	if msg.HasError() {
		logger.Error("Session", "Analysis service error: %s", msg.Error)
		s.metrics.ServerError()
	}

	updated := s.update(gen, func(st *State) {
		m := msg
		st.LastMessage = &m
		st.CurrentError = ""
		st.MessageSeq++
		if !msg.HasError() {
			st.OriginalImage = msg.OriginalImage
			st.SketchImage = msg.SketchImage
		}
	})
	if updated {
		s.loop.Arrived()
	}
}

func (s *Session) setFPS(fps int) {
	s.mu.Lock()
	if !s.state.IsRunning {
		s.mu.Unlock()
		return
	}
	s.state.FramesPerSecond = fps
	s.mu.Unlock()

	s.publish()
}

// Stop ends the run: no capture or send happens after it returns, the
// capture source is released, the channel is disconnected and the state
// is cleared. Safe to call at any time, any number of times. A Start issued
// while Stop is running waits for it to finish.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	active := s.state.IsRunning || s.starting || s.state.IsCameraActive
	id := s.state.SessionID
	s.gen++
	gen := s.gen
	s.starting = false
	s.state.IsRunning = false
	s.flags.SetRunning(false)
	s.flags.SetConnected(false)
	if s.stabilize != nil {
		s.stabilize.Stop()
		s.stabilize = nil
	}
	s.mu.Unlock()

	s.loop.Stop()
	s.src.Release()
	s.ch.Disconnect()

	s.mu.Lock()
	if gen == s.gen {
		s.state = initialState()
	}
	s.mu.Unlock()

	s.metrics.SetFPS(0)
	s.metrics.SetConnected(false)
	s.publish()
	if active {
		logger.Info("Session", "[%s] Stopped", id)
	}
}

// Close stops the session and releases subscribers. Start fails afterwards.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.stopAfter()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.Stop()

		s.subsMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subsMu.Unlock()
	})
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel receiving the state after every change.
// Slow subscribers only see the latest state.
func (s *Session) Subscribe() (int, <-chan State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan State, 1)
	s.subs[id] = ch
	logger.Debug("Session", "Subscriber #%d added (total: %d)", id, len(s.subs))
	return id, ch
}

// Unsubscribe removes a subscriber.
func (s *Session) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
		logger.Debug("Session", "Subscriber #%d removed (remaining: %d)", id, len(s.subs))
	}
}

func (s *Session) publish() {
	st := s.Snapshot()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			// Replace the stale pending state with the latest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
