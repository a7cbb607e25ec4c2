// Package kafka journals engine activity to a Kafka topic and reads it back.
package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/mapsync/pkg/errors"
)

// TopicSyncJournal is the default journal topic.
const TopicSyncJournal = "mapsync.sync-journal"

// SchemaVersion of EventEnvelope payloads.
const SchemaVersion = "1"

// Header keys set on every journal message.
const (
	HeaderEventType = "event_type"
	HeaderSchema    = "schema_version"
)

// EventEnvelope standardizes journal messages.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEventEnvelope wraps payload with a fresh event id.
func NewEventEnvelope(eventType, source string, at time.Time, payload interface{}) (*EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     at.UTC(),
		SchemaVersion: SchemaVersion,
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode payload")
	}
	return nil
}

// ToMessage encodes the envelope for topic.  key selects the partition, so
// events of one pane stay ordered.
func (e *EventEnvelope) ToMessage(topic string, key string) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	msg := kafka.Message{
		Topic: topic,
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderSchema, Value: []byte(e.SchemaVersion)},
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg, nil
}

// EnvelopeFromMessage decodes a journal message.
func EnvelopeFromMessage(msg kafka.Message) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, errors.New(errors.ErrCodeSerialization, "envelope missing event id or type").
			WithDetail("offset=" + itoa(msg.Offset))
	}
	return &env, nil
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
