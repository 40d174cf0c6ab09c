// Package viewer serves a local HTTP view of a streaming session: status as
// JSON or SSE, the returned images as MJPEG, start/stop and metrics.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/encoder"
	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/metrics"
	"github.com/drowsiness-detection/streaming-client/internal/session"
	"github.com/gorilla/mux"
)

// Controller is the session surface the viewer observes and drives.
type Controller interface {
	StatusSource
	Start(ctx context.Context) error
	Stop()
}

// Server serves the viewer endpoints.
type Server struct {
	cfg      Config
	ctl      Controller
	metrics  *metrics.Metrics
	status   *StatusBroadcaster
	original *panel
	sketch   *panel
	blank    []byte

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer returns a viewer for ctl and starts its status broadcaster.
// m may be nil, in which case /metrics is not served.
func NewServer(cfg Config, ctl Controller, m *metrics.Metrics) (*Server, error) {
	cfg = cfg.withDefaults()
	enc := encoder.NewJPEGEncoder()

	blank, err := placeholderJPEG(enc, cfg.PlaceholderWidth, cfg.PlaceholderHeight)
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		ctl:     ctl,
		metrics: m,
		status:  NewStatusBroadcaster(ctl, cfg.StatusInterval),
		original: &panel{
			name: "original",
			pick: func(st session.State) string { return st.OriginalImage },
			enc:  enc,
		},
		sketch: &panel{
			name: "sketch",
			pick: func(st session.State) string { return st.SketchImage },
			enc:  enc,
		},
		blank:   blank,
		closing: make(chan struct{}),
	}
	s.status.Start()
	return s, nil
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/api/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/stream/original", s.panelHandler(s.original)).Methods(http.MethodGet)
	r.HandleFunc("/stream/sketch", s.panelHandler(s.sketch)).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

// Close ends every open stream and stops the broadcaster. Call it before
// shutting down the HTTP server so long-lived responses return.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.status.Stop()
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.Snapshot()
	writeJSON(w, map[string]any{
		"status":    "ok",
		"running":   st.IsRunning,
		"connected": st.IsConnected,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, newStatusPayload(s.ctl.Snapshot(), time.Now()))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamStatusEventsFromChannel(r.Context(), w, eventCh, useProtobuf, s.cfg.KeepaliveInterval)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.Snapshot()
	if st.LastMessage == nil || st.LastMessage.JSONReport == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, st.LastMessage.JSONReport)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.ctl.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, newStatusPayload(s.ctl.Snapshot(), time.Now()))
	case errors.Is(err, session.ErrAlreadyRunning):
		writeJSONWithStatus(w, map[string]any{"error": "session already running"}, http.StatusConflict)
	case errors.Is(err, session.ErrClosed):
		writeJSONWithStatus(w, map[string]any{"error": "session closed"}, http.StatusServiceUnavailable)
	default:
		logger.Warn("Viewer", "Start failed: %v", err)
		writeJSONWithStatus(w, map[string]any{
			"error":  s.ctl.Snapshot().CurrentError,
			"detail": err.Error(),
		}, http.StatusBadGateway)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctl.Stop()
	writeJSON(w, newStatusPayload(s.ctl.Snapshot(), time.Now()))
}

func (s *Server) panelHandler(p *panel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamMJPEG(r.Context(), w, s.closing, s.cfg.MJPEGInterval, s.blank, func() ([]byte, bool) {
			return p.frame(s.ctl.Snapshot())
		})
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
