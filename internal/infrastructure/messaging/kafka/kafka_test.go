package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/internal/testutil"
	"github.com/turtacn/mapsync/pkg/errors"
)

type mockKafkaWriter struct {
	mu        sync.Mutex
	written   []kafka.Message
	calls     int
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closed    bool
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func (m *mockKafkaWriter) messages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.written...)
}

type mockKafkaReader struct {
	msgs   []kafka.Message
	closed bool
}

func (m *mockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(m.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, nil
}

func (m *mockKafkaReader) Close() error {
	m.closed = true
	return nil
}

var journalTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestProducer(w *mockKafkaWriter) *Producer {
	return NewProducerWithWriter(w, ProducerConfig{Brokers: []string{"broker:9092"}}, testutil.NewMockLogger())
}

func TestEventEnvelope_MessageRoundTrip(t *testing.T) {
	env, err := NewEventEnvelope("sync.viewport", JournalSource, journalTime, map[string]int{"zoom": 15})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)

	msg, err := env.ToMessage("journal", "left")
	require.NoError(t, err)
	assert.Equal(t, "journal", msg.Topic)
	assert.Equal(t, []byte("left"), msg.Key)
	assert.Equal(t, journalTime, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, HeaderEventType, msg.Headers[0].Key)
	assert.Equal(t, "sync.viewport", string(msg.Headers[0].Value))

	got, err := EnvelopeFromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	var payload map[string]int
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, 15, payload["zoom"])
}

func TestEventEnvelope_EmptyKeyLeavesKeyUnset(t *testing.T) {
	env, err := NewEventEnvelope("sync.mode", JournalSource, journalTime, struct{}{})
	require.NoError(t, err)
	msg, err := env.ToMessage("journal", "")
	require.NoError(t, err)
	assert.Nil(t, msg.Key)
}

func TestEnvelopeFromMessage_Invalid(t *testing.T) {
	_, err := EnvelopeFromMessage(kafka.Message{Value: []byte("not json")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))

	_, err = EnvelopeFromMessage(kafka.Message{Value: []byte(`{"payload":{}}`), Offset: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset=7")
}

func TestValidateProducerConfig(t *testing.T) {
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, MaxRetries: -1}))
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}}))
}

func TestNewProducer_SASL(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"b:9092"}, SASLMechanism: "plain", SASLUsername: "u", SASLPassword: "p"}, testutil.NewMockLogger())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = NewProducer(ProducerConfig{Brokers: []string{"b:9092"}, SASLMechanism: "GSSAPI"}, testutil.NewMockLogger())
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = NewProducer(ProducerConfig{Brokers: []string{"b:9092"}, TLSEnabled: true, TLSCAPath: "/nonexistent/ca.pem"}, testutil.NewMockLogger())
	assert.Error(t, err)
}

func TestProducer_Publish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.Publish(context.Background(),
		kafka.Message{Topic: "t", Value: []byte("a")},
		kafka.Message{Topic: "t", Value: []byte("bb")}))
	assert.Len(t, w.messages(), 2)
	assert.Equal(t, int64(2), p.Sent())

	require.NoError(t, p.Publish(context.Background()))
	assert.Equal(t, 1, w.calls)
}

func TestProducer_PublishValidation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	err := p.Publish(context.Background(), kafka.Message{Value: []byte("a")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	big := make([]byte, 2*1024*1024)
	err = p.Publish(context.Background(), kafka.Message{Topic: "t", Value: big})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestProducer_PublishFailure(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return assert.AnError }}
	p := newTestProducer(w)
	err := p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte("a")})
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int64(1), p.Failed())
}

func TestProducer_Closed(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}), ErrProducerClosed)
}

func TestJournal_WritesKeyedEnvelopes(t *testing.T) {
	w := &mockKafkaWriter{}
	j := NewJournal(newTestProducer(w), JournalOptions{Topic: "journal"}, testutil.NewMockLogger(), nil)

	vp := viewport.Viewport{Lat: 37.5, Lng: 127, Zoom: 15}
	j.Send(engine.Notification{Type: engine.NotifyViewport, Pane: "left", Viewport: &vp, Time: journalTime})
	j.Send(engine.Notification{Type: engine.NotifyMode, Pane: "right", Mode: "measuring", Time: journalTime})
	require.NoError(t, j.Close())

	msgs := w.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "left", string(msgs[0].Key))
	assert.Equal(t, "right", string(msgs[1].Key))

	env, err := EnvelopeFromMessage(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "sync.viewport", env.EventType)
	assert.Equal(t, JournalSource, env.Source)
	var n engine.Notification
	require.NoError(t, env.DecodePayload(&n))
	require.NotNil(t, n.Viewport)
	assert.Equal(t, vp, *n.Viewport)
	assert.True(t, w.closed)
}

func TestJournal_ListenerFeedsQueue(t *testing.T) {
	w := &mockKafkaWriter{}
	j := NewJournal(newTestProducer(w), JournalOptions{}, testutil.NewMockLogger(), nil)
	j.Listener().OnPaneModeChanged("left", pane.ModeNormal)
	require.NoError(t, j.Close())

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TopicSyncJournal, msgs[0].Topic)
}

func TestJournal_WriteFailureLogged(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return assert.AnError }}
	log := testutil.NewMockLogger()
	j := NewJournal(newTestProducer(w), JournalOptions{}, log, nil)
	j.Send(engine.Notification{Type: engine.NotifyPaneError, Pane: "left", Time: journalTime})
	require.NoError(t, j.Close())
	assert.True(t, log.HasMessage("warn", "journal write failed"))
}

func TestJournal_SendAfterCloseIgnored(t *testing.T) {
	w := &mockKafkaWriter{}
	j := NewJournal(newTestProducer(w), JournalOptions{}, testutil.NewMockLogger(), nil)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	j.Send(engine.Notification{Type: engine.NotifyMode, Pane: "left", Time: journalTime})
	assert.Empty(t, w.messages())
}

func TestTailer_DeliversAndSkips(t *testing.T) {
	env, err := NewEventEnvelope("sync.mode", JournalSource, journalTime, engine.Notification{Type: engine.NotifyMode, Pane: "left", Mode: "measuring", Time: journalTime})
	require.NoError(t, err)
	good, err := env.ToMessage("journal", "left")
	require.NoError(t, err)

	r := &mockKafkaReader{msgs: []kafka.Message{{Value: []byte("garbage"), Offset: 1}, good}}
	log := testutil.NewMockLogger()
	tailer := NewTailerWithReader(r, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []*EventEnvelope
	err = tailer.Tail(ctx, func(e *EventEnvelope, _ kafka.Message) error {
		got = append(got, e)
		cancel()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, env.EventID, got[0].EventID)
	assert.True(t, log.HasMessage("warn", "skipping undecodable journal message"))

	require.NoError(t, tailer.Close())
	assert.True(t, r.closed)
}

func TestTailer_HandlerErrorStops(t *testing.T) {
	env, err := NewEventEnvelope("sync.mode", JournalSource, journalTime, struct{}{})
	require.NoError(t, err)
	msg, err := env.ToMessage("journal", "")
	require.NoError(t, err)

	tailer := NewTailerWithReader(&mockKafkaReader{msgs: []kafka.Message{msg, msg}}, testutil.NewMockLogger())
	err = tailer.Tail(context.Background(), func(*EventEnvelope, kafka.Message) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewTailer_RequiresBrokers(t *testing.T) {
	_, err := NewTailer(TailConfig{}, testutil.NewMockLogger())
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
