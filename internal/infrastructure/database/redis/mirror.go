package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Key and channel suffixes under MirrorOptions.KeyPrefix.
const (
	KeyViewport   = "viewport"
	KeyModes      = "modes"
	ChannelEvents = "events"
)

// MirrorOptions tunes the mirror.
type MirrorOptions struct {
	KeyPrefix    string
	StateTTL     time.Duration
	QueueSize    int
	WriteTimeout time.Duration
}

func (o *MirrorOptions) applyDefaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "mapsync:"
	}
	if o.StateTTL == 0 {
		o.StateTTL = 24 * time.Hour
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 3 * time.Second
	}
}

// Mirror writes host notifications to Redis from its own goroutine.  The
// engine loop only enqueues; a full queue drops the notification.
type Mirror struct {
	*Reader
	client  *Client
	opts    MirrorOptions
	log     logging.Logger
	metrics *prometheus.SyncMetrics

	queue chan engine.Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewMirror starts the mirror worker.
func NewMirror(client *Client, opts MirrorOptions, log logging.Logger, metrics *prometheus.SyncMetrics) *Mirror {
	opts.applyDefaults()
	if metrics == nil {
		metrics = prometheus.NewNoopSyncMetrics()
	}
	m := &Mirror{
		Reader:  NewReader(client, opts.KeyPrefix, log),
		client:  client,
		opts:    opts,
		log:     log.Named("redis_mirror"),
		metrics: metrics,
		queue:   make(chan engine.Notification, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Listener returns the HostListener to register with the engine.
func (m *Mirror) Listener() engine.HostListener {
	return engine.Notifier{Send: m.Send}
}

// Send enqueues n.  It never blocks.
func (m *Mirror) Send(n engine.Notification) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- n:
	default:
		m.metrics.MirrorPublishTotal.WithLabelValues("redis", "dropped").Inc()
		m.log.Warn("mirror queue full, dropping notification", logging.String("type", string(n.Type)))
	}
}

// Close flushes queued notifications and stops the worker.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
}

func (m *Mirror) run() {
	defer close(m.done)
	for n := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
		timer := m.metrics.MirrorTimer("redis")
		err := m.write(ctx, n)
		timer.ObserveDuration()
		cancel()
		m.metrics.RecordMirror("redis", err)
		if err != nil {
			m.log.Warn("mirror write failed", logging.String("type", string(n.Type)), logging.Err(err))
		}
	}
}

func (m *Mirror) write(ctx context.Context, n engine.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode notification")
	}
	return m.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		switch n.Type {
		case engine.NotifyViewport:
			vp, err := json.Marshal(n.Viewport)
			if err != nil {
				return err
			}
			p.Set(ctx, m.key(KeyViewport), vp, m.opts.StateTTL)
		case engine.NotifyMode:
			if n.Mode == pane.ModeNormal.String() {
				p.HDel(ctx, m.key(KeyModes), n.Pane.String())
			} else {
				p.HSet(ctx, m.key(KeyModes), n.Pane.String(), n.Mode)
			}
			p.Expire(ctx, m.key(KeyModes), m.opts.StateTTL)
		}
		p.Publish(ctx, m.key(ChannelEvents), payload)
		return nil
	})
}

// Reader reads the state and event stream a Mirror maintains.  It needs no
// worker, so tools can use it against a live service's Redis.
type Reader struct {
	client *Client
	prefix string
	log    logging.Logger
}

// NewReader reads keys under keyPrefix ("mapsync:" when empty).
func NewReader(client *Client, keyPrefix string, log logging.Logger) *Reader {
	if keyPrefix == "" {
		keyPrefix = "mapsync:"
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Reader{client: client, prefix: keyPrefix, log: log.Named("redis_reader")}
}

func (r *Reader) key(suffix string) string { return r.prefix + suffix }

// LastViewport returns the mirrored canonical viewport, if any.  A restarted
// service seeds its initial viewport from it.
func (r *Reader) LastViewport(ctx context.Context) (viewport.Viewport, bool, error) {
	raw, err := r.client.Get(ctx, r.key(KeyViewport))
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return viewport.Viewport{}, false, nil
	}
	if err != nil {
		return viewport.Viewport{}, false, err
	}
	var v viewport.Viewport
	if err := json.Unmarshal(raw, &v); err != nil {
		return viewport.Viewport{}, false, errors.Wrap(err, errors.ErrCodeSerialization, "decode mirrored viewport")
	}
	if err := v.Validate(); err != nil {
		return viewport.Viewport{}, false, err
	}
	return v, true, nil
}

// Modes returns the mirrored non-normal pane modes.
func (r *Reader) Modes(ctx context.Context) (map[pane.ID]pane.Mode, error) {
	raw, err := r.client.HGetAll(ctx, r.key(KeyModes))
	if err != nil {
		return nil, err
	}
	out := make(map[pane.ID]pane.Mode, len(raw))
	for id, name := range raw {
		mode, err := pane.ParseMode(name)
		if err != nil {
			r.log.Warn("skipping unknown mirrored mode", logging.Pane(id), logging.String("mode", name))
			continue
		}
		out[pane.ID(id)] = mode
	}
	return out, nil
}

// Watch calls fn for every notification published after the subscription is
// confirmed, until ctx ends or fn returns an error.  Undecodable messages
// are skipped.
func (r *Reader) Watch(ctx context.Context, fn func(engine.Notification) error) error {
	sub, err := r.client.Subscribe(ctx, r.key(ChannelEvents))
	if err != nil {
		return err
	}
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "subscribe to mirror events")
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n engine.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.log.Warn("skipping undecodable mirror event", logging.Err(err))
				continue
			}
			if err := fn(n); err != nil {
				return err
			}
		}
	}
}
