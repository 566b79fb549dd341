package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"ledger-engine/config"
	"ledger-engine/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	deadline bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() domain.Event {
	return domain.Event{
		ID:            "01HZX3",
		Type:          domain.EventTransferCompleted,
		AggregateID:   "acc-1",
		CorrelationID: "corr-1",
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:       map[string]string{"amount": "40.00"},
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)
	assert.True(t, w.deadline)

	msg := w.msgs[0]
	assert.Equal(t, []byte("acc-1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("TransferCompleted"), msg.Headers[0].Value)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "corr-1", decoded.CorrelationID)
	assert.Equal(t, "40.00", decoded.Payload["amount"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisher_PartitionsByAggregate(t *testing.T) {
	p := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "ledger-events"})
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	require.IsType(t, &kafka.Hash{}, w.Balancer)

	msg, err := encode(testEvent())
	require.NoError(t, err)
	partitions := []int{0, 1, 2, 3, 4, 5, 6, 7}
	first := w.Balancer.Balance(msg, partitions...)
	for i := 0; i < 5; i++ {
		other := testEvent()
		other.ID = fmt.Sprintf("evt-%d", i)
		m, err := encode(other)
		require.NoError(t, err)
		assert.Equal(t, first, w.Balancer.Balance(m, partitions...))
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), testEvent())
	assert.ErrorContains(t, err, "kafka publish TransferCompleted")
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	out := buf.String()
	assert.Contains(t, out, `"event":"TransferCompleted"`)
	assert.Contains(t, out, `"correlation_id":"corr-1"`)
	assert.Contains(t, out, `"amount":"40.00"`)
}
