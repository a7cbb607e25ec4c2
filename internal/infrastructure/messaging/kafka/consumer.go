package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/pkg/errors"
)

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TailConfig selects what a Tailer reads.
type TailConfig struct {
	Brokers       []string
	Topic         string
	Partition     int
	FromBeginning bool
	MaxWait       time.Duration
}

// EnvelopeHandler receives decoded journal events.  Returning an error stops
// the tail.
type EnvelopeHandler func(env *EventEnvelope, msg kafka.Message) error

// Tailer reads journal envelopes from one partition without a consumer group.
type Tailer struct {
	reader ReaderInterface
	logger logging.Logger
}

// NewTailer opens a reader on cfg.Topic.
func NewTailer(cfg TailConfig, logger logging.Logger) (*Tailer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicSyncJournal
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: cfg.Partition,
		MinBytes:  1,
		MaxBytes:  1 << 20,
		MaxWait:   cfg.MaxWait,
	})
	offset := kafka.LastOffset
	if cfg.FromBeginning {
		offset = kafka.FirstOffset
	}
	if err := r.SetOffset(offset); err != nil {
		_ = r.Close()
		return nil, errors.Wrap(err, errors.CodeMessageQueueError, "set reader offset")
	}
	return NewTailerWithReader(r, logger), nil
}

// NewTailerWithReader wraps an existing reader.
func NewTailerWithReader(r ReaderInterface, logger logging.Logger) *Tailer {
	return &Tailer{reader: r, logger: logger.Named("kafka_tailer")}
}

// Tail delivers envelopes to handler until ctx ends or handler fails.
// Messages that do not decode are logged and skipped.
func (t *Tailer) Tail(ctx context.Context, handler EnvelopeHandler) error {
	for {
		msg, err := t.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.CodeMessageQueueError, "read journal")
		}
		env, err := EnvelopeFromMessage(msg)
		if err != nil {
			t.logger.Warn("skipping undecodable journal message",
				logging.Int64("offset", msg.Offset), logging.Err(err))
			continue
		}
		if err := handler(env, msg); err != nil {
			return err
		}
	}
}

// Close closes the reader.
func (t *Tailer) Close() error {
	return t.reader.Close()
}
