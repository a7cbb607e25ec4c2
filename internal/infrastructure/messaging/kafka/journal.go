package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/internal/sync/engine"
)

// EventTypePrefix prefixes every journal event type, e.g. "sync.viewport".
const EventTypePrefix = "sync."

// JournalSource is the envelope source of journal events.
const JournalSource = "mapsync"

// JournalOptions tunes the journal worker.
type JournalOptions struct {
	Topic        string
	QueueSize    int
	MaxBatch     int
	WriteTimeout time.Duration
}

func (o *JournalOptions) applyDefaults() {
	if o.Topic == "" {
		o.Topic = TopicSyncJournal
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 64
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// Journal appends host notifications to a Kafka topic.  Notifications are
// queued by the engine loop and written in batches from a single goroutine,
// keyed by pane so per-pane order is kept.
type Journal struct {
	producer *Producer
	opts     JournalOptions
	log      logging.Logger
	metrics  *prometheus.SyncMetrics

	queue chan engine.Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewJournal starts the journal worker.  The journal owns producer.
func NewJournal(producer *Producer, opts JournalOptions, log logging.Logger, metrics *prometheus.SyncMetrics) *Journal {
	opts.applyDefaults()
	if metrics == nil {
		metrics = prometheus.NewNoopSyncMetrics()
	}
	j := &Journal{
		producer: producer,
		opts:     opts,
		log:      log.Named("kafka_journal"),
		metrics:  metrics,
		queue:    make(chan engine.Notification, opts.QueueSize),
		done:     make(chan struct{}),
	}
	go j.run()
	return j
}

// Listener returns the HostListener to register with the engine.
func (j *Journal) Listener() engine.HostListener {
	return engine.Notifier{Send: j.Send}
}

// Send enqueues n without blocking.
func (j *Journal) Send(n engine.Notification) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- n:
	default:
		j.metrics.MirrorPublishTotal.WithLabelValues("kafka", "dropped").Inc()
		j.log.Warn("journal queue full, dropping notification", logging.String("type", string(n.Type)))
	}
}

// Close flushes queued notifications, then closes the producer.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
	return j.producer.Close()
}

func (j *Journal) run() {
	defer close(j.done)
	batch := make([]engine.Notification, 0, j.opts.MaxBatch)
	for n := range j.queue {
		batch = append(batch[:0], n)
	fill:
		for len(batch) < j.opts.MaxBatch {
			select {
			case next, ok := <-j.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		j.flush(batch)
	}
}

func (j *Journal) flush(batch []engine.Notification) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, n := range batch {
		msg, err := j.encode(n)
		if err != nil {
			j.metrics.RecordMirror("kafka", err)
			j.log.Error("journal encode failed", logging.String("type", string(n.Type)), logging.Err(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.opts.WriteTimeout)
	timer := j.metrics.MirrorTimer("kafka")
	err := j.producer.Publish(ctx, msgs...)
	timer.ObserveDuration()
	cancel()
	for range msgs {
		j.metrics.RecordMirror("kafka", err)
	}
	if err != nil {
		j.log.Warn("journal write failed", logging.Int("count", len(msgs)), logging.Err(err))
	}
}

func (j *Journal) encode(n engine.Notification) (kafka.Message, error) {
	env, err := NewEventEnvelope(EventTypePrefix+string(n.Type), JournalSource, n.Time, n)
	if err != nil {
		return kafka.Message{}, err
	}
	return env.ToMessage(j.opts.Topic, n.Pane.String())
}
