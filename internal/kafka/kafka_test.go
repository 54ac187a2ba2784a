package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeMessage(t *testing.T) {
	env, err := events.New(events.EventOrderCreated, "order-api", "o-1", events.OrderCreatedPayload{OrderID: "o-1"})
	require.NoError(t, err)
	env.TraceID = "abc123"

	m, err := envelopeMessage(events.TopicOrderCreated, "o-1", env)
	require.NoError(t, err)
	assert.Equal(t, events.TopicOrderCreated, m.Topic)
	assert.Equal(t, "o-1", string(m.Key))
	assert.Equal(t, events.EventOrderCreated, header(m, HeaderEventType))
	assert.Equal(t, "1", header(m, HeaderEventVersion))
	assert.Equal(t, "abc123", header(m, HeaderTraceID))
	assert.Equal(t, "", header(m, "missing"))

	var back events.Envelope
	require.NoError(t, json.Unmarshal(m.Value, &back))
	assert.Equal(t, env.EventID, back.EventID)
	assert.JSONEq(t, string(env.Payload), string(back.Payload))
}

func TestProducerQueuesUntilClosed(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, 2, nil)
	ctx := context.Background()
	env, err := events.New(events.EventOrderDeleted, "order-api", "o-1", events.OrderDeletedPayload{OrderID: "o-1"})
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, events.TopicOrderDeleted, "o-1", env))
	require.NoError(t, p.Publish(ctx, events.TopicOrderDeleted, "o-1", env))

	// inbox is full and nothing drains it
	full, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, p.Publish(full, events.TopicOrderDeleted, "o-1", env), context.Canceled)

	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Publish(ctx, events.TopicOrderDeleted, "o-1", env), ErrClosed)
	assert.Len(t, p.inbox, 2)
}

func TestConsumerHoldsCommitsAfterGivingUp(t *testing.T) {
	var committed []kafka.Message
	c := &Consumer{
		workers:  1,
		log:      zap.NewNop(),
		Attempts: 2,
		commit: func(_ context.Context, msgs ...kafka.Message) error {
			committed = append(committed, msgs...)
			return nil
		},
	}
	h := func(_ context.Context, m kafka.Message) error {
		if string(m.Value) == "bad" {
			return errors.New("projection failed")
		}
		return nil
	}
	held := heldPartitions{}
	ctx := context.Background()
	for _, m := range []kafka.Message{
		{Partition: 0, Offset: 1, Value: []byte("ok")},
		{Partition: 0, Offset: 2, Value: []byte("bad")},
		{Partition: 1, Offset: 7, Value: []byte("ok")},
		{Partition: 0, Offset: 3, Value: []byte("ok")},
	} {
		c.handle(ctx, h, m, held)
	}

	require.Len(t, committed, 2)
	assert.Equal(t, int64(1), committed[0].Offset)
	assert.Equal(t, 1, committed[1].Partition)
	assert.Equal(t, heldPartitions{0: 2}, held)
}
