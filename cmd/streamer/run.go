package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/drowsiness-detection/streaming-client/internal/capture"
	"github.com/drowsiness-detection/streaming-client/internal/config"
	"github.com/drowsiness-detection/streaming-client/internal/encoder"
	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/metrics"
	"github.com/drowsiness-detection/streaming-client/internal/pacer"
	"github.com/drowsiness-detection/streaming-client/internal/session"
	"github.com/drowsiness-detection/streaming-client/internal/transport"
	"github.com/drowsiness-detection/streaming-client/internal/viewer"
)

const shutdownTimeout = 5 * time.Second

func initLogger(cfg config.LogConfig) error {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Format == "json" {
		logger.InitJSON(level, os.Stderr)
	} else {
		logger.Init(level, os.Stderr, cfg.Color)
	}
	return nil
}

func newSource(cfg config.CaptureConfig) (capture.Source, error) {
	opts := capture.Options{
		Width:          cfg.Width,
		Height:         cfg.Height,
		AcquireTimeout: cfg.AcquireTimeout,
	}
	switch cfg.Source {
	case "pattern":
		return capture.NewPatternSource(opts), nil
	case "file":
		return capture.NewFileSource(cfg.Dir, opts), nil
	case "webcam":
		return capture.NewWebcamSource(cfg.Device, opts), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// newMetrics adds the Go runtime and process collectors to the client metrics.
func newMetrics() *metrics.Metrics {
	m := metrics.New()
	m.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func transportConfig(cfg *config.Config) transport.Config {
	t := transport.DefaultConfig()
	t.URL = cfg.ServerURL
	t.ReconnectDelay = cfg.Transport.ReconnectDelay
	t.MaxAttempts = cfg.Transport.MaxReconnectAttempts
	t.HandshakeTimeout = cfg.Transport.HandshakeTimeout
	t.PingInterval = cfg.Transport.PingInterval
	return t
}

func sessionConfig(cfg *config.Config, m *metrics.Metrics) session.Config {
	s := session.DefaultConfig()
	s.Pacer = pacer.Config{
		TargetInterval:  cfg.Stream.FrameInterval,
		TickInterval:    cfg.Stream.TickInterval,
		Quality:         cfg.Stream.Quality,
		Policy:          pacer.ParsePolicy(cfg.Stream.Policy),
		InFlightTimeout: cfg.Stream.InFlightTimeout,
	}
	s.StabilizationDelay = cfg.Stream.StabilizationDelay
	s.Metrics = m
	return s
}

func viewerConfig(cfg config.ViewerConfig) viewer.Config {
	v := viewer.DefaultConfig()
	v.Addr = cfg.Addr
	v.StatusInterval = cfg.StatusInterval
	v.MJPEGInterval = cfg.MJPEGInterval
	return v
}

func run(parent context.Context, cfg *config.Config) error {
	if err := initLogger(cfg.Log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := newSource(cfg.Capture)
	if err != nil {
		return err
	}

	m := newMetrics()
	ch := transport.NewChannel(transportConfig(cfg), nil, m)
	enc := encoder.NewAsyncEncoder(encoder.NewJPEGEncoder())
	defer enc.Close()

	sess := session.New(ctx, src, enc, ch, sessionConfig(cfg, m))
	defer sess.Close()

	logger.Info("Main", "streamer %s: server=%s source=%s interval=%v policy=%s",
		version, cfg.ServerURL, cfg.Capture.Source, cfg.Stream.FrameInterval, cfg.Stream.Policy)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.AutoStart {
		g.Go(func() error {
			if err := sess.Start(ctx); err != nil {
				// The session stays restartable from the viewer.
				logger.Error("Main", "Auto-start failed: %v", err)
			}
			return nil
		})
	}

	if cfg.Viewer.Enabled {
		view, err := viewer.NewServer(viewerConfig(cfg.Viewer), sess, m)
		if err != nil {
			return fmt.Errorf("create viewer: %w", err)
		}
		httpServer := &http.Server{
			Addr:              cfg.Viewer.Addr,
			Handler:           view.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Main", "Viewer listening on %s", cfg.Viewer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("viewer server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			view.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Main", "Shutting down")
		return sess.Close()
	})

	return g.Wait()
}
