package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	commit  func(ctx context.Context, msgs ...kafka.Message) error
	workers int
	log     *zap.Logger

	// Attempts bounds handler retries per message; Backoff is the pause between them.
	Attempts int
	Backoff  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, commit: r.CommitMessages, workers: workers, log: log, Attempts: 5, Backoff: 200 * time.Millisecond}
}

// Start dispatches messages to workers until ctx ends. Every partition is served by a
// single worker, so its offsets are handled and committed in order. When a handler gives
// up on a message, later messages of that partition are still handled but their offsets
// are no longer committed; the group resumes from the failed message after a restart
// or rebalance.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			held := heldPartitions{}
			for m := range in {
				c.handle(ctx, h, m, held)
			}
		}(jobs[i])
	}
	defer wg.Wait()
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// quiet on shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// heldPartitions maps a partition to the offset of the message its handler gave up on.
// Each worker owns its own map.
type heldPartitions map[int]int64

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message, held heldPartitions) {
	log := c.log.With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.String("event_type", header(m, HeaderEventType)))
	if tid := header(m, HeaderTraceID); tid != "" {
		log = log.With(zap.String("trace_id", tid))
	}
	hctx := logging.WithContext(ctx, log)

	var err error
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		if err = h(hctx, m); err == nil {
			break
		}
		log.Warn("kafka_handler_failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.Backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		if _, ok := held[m.Partition]; !ok {
			held[m.Partition] = m.Offset
		}
		log.Error("kafka_handler_gave_up", zap.Error(err))
		return
	}
	if at, ok := held[m.Partition]; ok {
		log.Debug("kafka_commit_held", zap.Int64("held_at", at))
		return
	}
	if err := c.commit(ctx, m); err != nil && ctx.Err() == nil {
		log.Error("kafka_commit_failed", zap.Error(err))
	}
}
