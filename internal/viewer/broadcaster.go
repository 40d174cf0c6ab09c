package viewer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/session"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusSource is the part of the session the viewer observes.
type StatusSource interface {
	Snapshot() session.State
	Subscribe() (int, <-chan session.State)
	Unsubscribe(id int)
}

// SerializedEvent holds one status event pre-serialized in both wire formats.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 google.protobuf.Struct
}

type statusPayload struct {
	session.State
	HasReport bool    `json:"has_report"`
	Alerting  bool    `json:"alerting"`
	Timestamp float64 `json:"timestamp"`
}

func newStatusPayload(st session.State, now time.Time) statusPayload {
	p := statusPayload{
		State:     st,
		Timestamp: float64(now.UnixMilli()) / 1000,
	}
	if st.LastMessage != nil && st.LastMessage.JSONReport != nil {
		p.HasReport = true
		p.Alerting = st.LastMessage.JSONReport.Alerting()
	}
	return p
}

// serializeStatus renders st as JSON and as a base64 protobuf Struct with
// the same fields.
func serializeStatus(st session.State, now time.Time) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(newStatusPayload(st, now))
	if err != nil {
		return nil, fmt.Errorf("marshal status json: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("status fields: %w", err)
	}
	pbStatus, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("status struct: %w", err)
	}
	pbData, err := proto.Marshal(pbStatus)
	if err != nil {
		return nil, fmt.Errorf("marshal status protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StatusBroadcaster fans session status out to SSE clients. Every change is
// serialized once, whatever the number of clients.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	latest   *SerializedEvent
	src      StatusSource
	stop     chan struct{}
	done     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster re-sending the latest status
// every interval while clients are connected.
func NewStatusBroadcaster(src StatusSource, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		src:      src,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a client. The channel is primed with the current status.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2)
	if sb.stopped {
		close(ch)
		return id, ch
	}
	if sb.latest != nil {
		ch <- sb.latest
	}
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Clients returns the number of subscribed clients.
func (sb *StatusBroadcaster) Clients() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	sb.processAndBroadcast(sb.src.Snapshot())
	go sb.run()
}

// Stop halts the broadcaster and closes every client channel.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if sb.stopped {
		sb.mu.Unlock()
		return
	}
	sb.stopped = true
	close(sb.stop)
	sb.mu.Unlock()

	<-sb.done

	sb.mu.Lock()
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	defer close(sb.done)

	subID, updates := sb.src.Subscribe()
	defer sb.src.Unsubscribe(subID)

	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case st, ok := <-updates:
			if !ok {
				// Session closed; keep serving the final state on the ticker.
				updates = nil
				continue
			}
			sb.processAndBroadcast(st)
		case <-ticker.C:
			if sb.Clients() == 0 {
				continue
			}
			sb.processAndBroadcast(sb.src.Snapshot())
		}
	}
}

func (sb *StatusBroadcaster) processAndBroadcast(st session.State) {
	event, err := serializeStatus(st, time.Now())
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize status: %v", err)
		return
	}
	sb.broadcast(event)
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.latest = event
	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
