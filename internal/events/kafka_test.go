package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherEncodesEvents(t *testing.T) {
	w := &captureWriter{}
	pub := &KafkaPublisher{writer: w}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	evt := New(PaymentsGenerated, 42, at)
	evt.Data = map[string]any{"created": 3}
	require.NoError(t, pub.Publish(context.Background(), evt))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "42", string(msg.Key))
	require.Equal(t, at, msg.Time)
	require.Equal(t, "event-type", msg.Headers[0].Key)
	require.Equal(t, string(PaymentsGenerated), string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, evt.ID, decoded.ID)
	require.Equal(t, int64(42), decoded.DealID)
	require.Equal(t, float64(3), decoded.Data["created"])

	require.NoError(t, pub.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	pub := &KafkaPublisher{writer: &captureWriter{err: boom}}
	err := pub.Publish(context.Background(), New(PaymentDeleted, 1, time.Now()))
	require.ErrorIs(t, err, boom)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var pub *KafkaPublisher
	require.NoError(t, pub.Publish(context.Background(), New(PaymentDeleted, 1, time.Now())))
	require.NoError(t, pub.Close())
	require.NoError(t, Discard{}.Publish(context.Background()))
}
