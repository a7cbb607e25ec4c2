// File: internal/interfaces/ws/client.go
// One websocket connection with its read and write pumps.

package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Connection channels, used as the metrics label.
const (
	ChannelPane = "pane"
	ChannelHost = "host"
)

// Options tune connections.
type Options struct {
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func (o *Options) applyDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

func (o Options) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(o.AllowedOrigins))
	for _, origin := range o.AllowedOrigins {
		allowed[origin] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

var errSendQueueFull = errors.New(errors.ErrCodeServiceUnavailable, "websocket send queue full")

type outbound struct {
	typ   string
	data  []byte
	final bool
}

// client owns one websocket connection: a read loop on the caller's
// goroutine and a write loop of its own.
type client struct {
	id      string
	channel string
	conn    *websocket.Conn
	opts    Options
	log     logging.Logger
	metrics *prometheus.SyncMetrics

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, channel string, opts Options, log logging.Logger, metrics *prometheus.SyncMetrics) *client {
	id := uuid.New().String()
	return &client{
		id:      id,
		channel: channel,
		conn:    conn,
		opts:    opts,
		log:     log.With(logging.String("conn", id)),
		metrics: metrics,
		send:    make(chan outbound, opts.SendBuffer),
		done:    make(chan struct{}),
	}
}

// enqueue queues m for writing.  It never blocks.
func (c *client) enqueue(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode websocket message")
	}
	return c.enqueueRaw(m.Type, data, m.Type == TypeClose)
}

func (c *client) enqueueRaw(typ string, data []byte, final bool) error {
	select {
	case <-c.done:
		return errors.New(errors.ErrCodeNativeCallFailed, "websocket connection closed").WithDetail("conn=" + c.id)
	default:
	}
	select {
	case c.send <- outbound{typ: typ, data: data, final: final}:
		return nil
	default:
		c.log.Warn("send queue full, dropping message", logging.String("type", typ))
		return errSendQueueFull
	}
}

// close stops the write loop and closes the socket.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) closed() <-chan struct{} { return c.done }

func (c *client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case out := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				c.log.Debug("websocket write failed", logging.Err(err))
				return
			}
			c.metrics.WSMessagesTotal.WithLabelValues(c.channel, "out", out.typ).Inc()
			if out.final {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.opts.WriteTimeout))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readPump decodes frames into handle until the connection fails.
func (c *client) readPump(handle func(Message)) {
	defer c.close()
	pongWait := 2 * c.opts.PingInterval
	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket closed unexpectedly", logging.Err(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var m Message
		if err := json.Unmarshal(data, &m); err != nil || m.Type == "" {
			c.metrics.WSMessagesTotal.WithLabelValues(c.channel, "in", "invalid").Inc()
			c.log.Debug("ignoring malformed frame", logging.Int("bytes", len(data)))
			continue
		}
		typ := m.Type
		if !inboundTypes[typ] {
			typ = "unknown"
		}
		c.metrics.WSMessagesTotal.WithLabelValues(c.channel, "in", typ).Inc()
		handle(m)
	}
}
