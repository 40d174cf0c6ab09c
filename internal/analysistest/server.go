// Package analysistest provides an in-process websocket server that stands
// in for the remote analysis service in tests.
package analysistest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"github.com/gorilla/websocket"
)

// Responder builds the raw reply for a received frame payload. Returning
// nil sends nothing.
type Responder func(frame []byte) []byte

// Server is a websocket endpoint at /ws that records frames and replies
// to each one.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       map[*websocket.Conn]struct{}
	connections int
	frames      int
	lastFrame   []byte
	respond     Responder
	delay       time.Duration
	reject      bool
}

// NewServer starts a server that answers every frame with EchoReply.
func NewServer() *Server {
	s := &Server{
		conns:   make(map[*websocket.Conn]struct{}),
		respond: EchoReply,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// SetResponder replaces the reply function.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = r
}

// SetDelay delays every reply by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetReject makes the server refuse websocket upgrades so dials fail.
func (s *Server) SetReject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// DropAll closes every live connection without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.NetConn().Close()
	}
}

// Connections returns the number of accepted websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Live returns the number of currently open connections.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Frames returns the number of frames received.
func (s *Server) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// LastFrame returns the most recent payload received.
func (s *Server) LastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// Close drops all connections and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject {
		http.Error(w, "analysis service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.connections++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.frames++
		s.lastFrame = data
		respond := s.respond
		delay := s.delay
		s.mu.Unlock()

		if respond == nil {
			continue
		}
		reply := respond(data)
		if reply == nil {
			continue
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// EchoReply answers with the received frame as both images and an empty report.
func EchoReply(frame []byte) []byte {
	return Marshal(types.InboundMessage{
		JSONReport:    &types.DrowsinessReport{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		SketchImage:   string(frame),
		OriginalImage: string(frame),
	})
}

// ErrorReply answers every frame with a message carrying msg in the error field.
func ErrorReply(msg string) Responder {
	return func([]byte) []byte {
		return Marshal(types.InboundMessage{
			JSONReport: &types.DrowsinessReport{},
			Error:      msg,
		})
	}
}

// Static answers every frame with the same raw payload.
func Static(payload []byte) Responder {
	return func([]byte) []byte { return payload }
}

// Marshal encodes msg, panicking on failure.
func Marshal(msg types.InboundMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
