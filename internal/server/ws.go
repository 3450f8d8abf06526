package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/gasketvision/internal/inspection"
)

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // operator panels on the cell network
	},
}

// Event is one message on /api/events.
type Event struct {
	Type       string                 `json:"type"`
	Timestamp  int64                  `json:"timestamp"`
	Checkpoint *inspection.Checkpoint `json:"checkpoint,omitempty"`
}

// EventHub broadcasts pipeline checkpoints to websocket clients. It
// implements inspection.Observer; a slow client loses events instead of
// stalling the inspection.
type EventHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
	wg      sync.WaitGroup
}

// NewEventHub creates an EventHub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger:  logger.With("service", "events"),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

var _ inspection.Observer = (*EventHub)(nil)

// OnCheckpoint implements inspection.Observer.
func (h *EventHub) OnCheckpoint(cp inspection.Checkpoint) {
	h.Broadcast(Event{Type: "checkpoint", Timestamp: time.Now().UnixMilli(), Checkpoint: &cp})
}

// Broadcast queues ev for every connected client.
func (h *EventHub) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("dropping event for slow client", "remote", conn.RemoteAddr().String())
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client
// goes away or the hub is closed.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = ch
	h.wg.Add(1)
	h.mu.Unlock()

	defer h.wg.Done()
	defer h.remove(conn)

	// The read loop only detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				conn.Close()
				<-done
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				<-done
				return
			}
		}
	}
}

func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client and waits for their handlers to return.
func (h *EventHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, ch := range h.clients {
		close(ch)
	}
	h.clients = make(map[*websocket.Conn]chan []byte)
	h.mu.Unlock()
	h.wg.Wait()
}
