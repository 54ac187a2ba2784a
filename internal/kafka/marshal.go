package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderTraceID      = "x-trace-id"
)

func envelopeMessage(topic, key string, env events.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s envelope: %w", env.EventType, err)
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
	if env.TraceID != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceID, Value: []byte(env.TraceID)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   b,
		Time:    time.Now(),
		Headers: headers,
	}, nil
}

// header returns the first value of name, or "".
func header(m kafka.Message, name string) string {
	for _, h := range m.Headers {
		if h.Key == name {
			return string(h.Value)
		}
	}
	return ""
}
