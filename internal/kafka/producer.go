package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("kafka: producer closed")

// Producer buffers messages in an inbox drained by one goroutine, so Publish never
// waits on the brokers. The topic travels on each message.
type Producer struct {
	w   *kafka.Writer
	log *zap.Logger

	mu      sync.RWMutex
	closed  bool
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the writer loop until Close, flushing what is left in the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.log.Error("kafka_write_failed",
					zap.String("topic", m.Topic),
					zap.ByteString("key", m.Key),
					zap.String("event_type", header(m, HeaderEventType)),
					zap.Error(err))
			}
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka_writer_close_failed", zap.Error(err))
		}
	}()
}

// Publish enqueues env for topic. It implements events.Publisher.
func (p *Producer) Publish(ctx context.Context, topic, key string, env events.Envelope) error {
	m, err := envelopeMessage(topic, key, env)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages; the loop flushes the rest and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
