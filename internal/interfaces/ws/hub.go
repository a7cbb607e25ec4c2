// File: internal/interfaces/ws/hub.go
// Fan-out of engine notifications to host connections.

package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/pkg/errors"
)

// StateMessage greets a host connection with the current engine state.
type StateMessage struct {
	Type  string      `json:"type"`
	State interface{} `json:"state"`
}

// Hub fans engine notifications out to host UI connections.  A host whose
// send queue is full is disconnected rather than slowing the others.
type Hub struct {
	opts    Options
	log     logging.Logger
	metrics *prometheus.SyncMetrics

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub builds an empty hub.
func NewHub(opts Options, log logging.Logger, metrics *prometheus.SyncMetrics) *Hub {
	opts.applyDefaults()
	if metrics == nil {
		metrics = prometheus.NewNoopSyncMetrics()
	}
	return &Hub{
		opts:    opts,
		log:     log.Named("ws.host"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// Listener returns the HostListener to register with the engine.
func (h *Hub) Listener() engine.HostListener {
	return engine.Notifier{Send: h.Broadcast}
}

// Clients returns the number of connected hosts.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends n to every host.
func (h *Hub) Broadcast(n engine.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Error("encode notification failed", logging.Err(err))
		return
	}
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if err := c.enqueueRaw(string(n.Type), data, false); errors.Is(err, errSendQueueFull) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		c.log.Warn("disconnecting slow host")
		c.close()
	}
}

// Serve upgrades the request and streams notifications until the host
// disconnects.  state, when non-nil, is sent first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, state interface{}) {
	conn, err := h.opts.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	c := newClient(conn, ChannelHost, h.opts, h.log, h.metrics)
	if state != nil {
		data, err := json.Marshal(StateMessage{Type: TypeState, State: state})
		if err == nil {
			_ = c.enqueueRaw(TypeState, data, false)
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSClients.WithLabelValues(ChannelHost).Inc()
	c.log.Info("host connected")

	go c.writePump()
	// Hosts only listen; reading keeps pongs and close frames flowing.
	c.readPump(func(Message) {})

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.metrics.WSClients.WithLabelValues(ChannelHost).Dec()
	c.log.Info("host disconnected")
}

// Close disconnects every host.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}
