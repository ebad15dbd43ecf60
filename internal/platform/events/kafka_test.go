package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaPublisher(w, "payments.settled", zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), "appt-1", []byte(`{"ok":true}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "appt-1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"ok":true}`, string(w.msgs[0].Value))
	assert.Empty(t, w.msgs[0].Topic, "topic is set on the writer")
	assert.False(t, w.msgs[0].Time.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	broker := errors.New("leader not available")
	p := NewKafkaPublisher(&mockWriter{err: broker}, "payments.settled", zerolog.Nop())

	err := p.Publish(context.Background(), "appt-1", []byte("{}"))
	assert.ErrorIs(t, err, broker)
	assert.Contains(t, err.Error(), "payments.settled")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(KafkaConfig{Brokers: []string{"k1:9092", "k2:9092"}, Topic: "payments.settled"})
	assert.Equal(t, "payments.settled", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.NotNil(t, w.Addr)
	assert.Positive(t, w.WriteTimeout)
}
