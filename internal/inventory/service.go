package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type SummaryCache interface {
	GetSummary(ctx context.Context, productID string) (Summary, bool, error)
	SetSummary(ctx context.Context, s Summary) error
}

// Deduper claims event ids so redelivered messages are handled once.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string)
}

// Service serves availability reads and batched adjustments, and keeps the summary
// cache fresh from inventory.adjusted events.
type Service struct {
	Ledger      Ledger
	Cache       SummaryCache
	Dedup       Deduper
	Publisher   events.Publisher
	ServiceName string
}

// Availability answers from the cache, falling back to the ledger.
func (s *Service) Availability(ctx context.Context, productID string) (Summary, error) {
	if s.Cache != nil {
		sum, ok, err := s.Cache.GetSummary(ctx, productID)
		if err != nil {
			logging.FromContext(ctx).Warn("availability_cache_read_failed", zap.String("product_id", productID), zap.Error(err))
		}
		if ok {
			return sum, nil
		}
	}
	return s.Refresh(ctx, productID)
}

// Refresh recomputes productID's summary from the ledger and caches it.
func (s *Service) Refresh(ctx context.Context, productID string) (Summary, error) {
	p, err := s.Ledger.Product(ctx, productID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summarize(p)
	if s.Cache != nil {
		if err := s.Cache.SetSummary(ctx, sum); err != nil {
			logging.FromContext(ctx).Warn("availability_cache_write_failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return sum, nil
}

// Adjust applies a caller-built delta batch. key is the caller's idempotency key: a
// batch replayed under the same key is not applied again and reports applied=false.
// The batch is merged and sorted by key first so concurrent batches lock counters in
// the same order.
func (s *Service) Adjust(ctx context.Context, key, reason string, deltas []Delta) (applied bool, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "inventory.Adjust", trace.WithAttributes(attribute.String("adjustment.key", key)))
	defer func() { telemetry.EndSpan(span, err) }()

	if key == "" {
		return false, fmt.Errorf("%w: adjustment key is required", ErrInvalidKey)
	}
	if len(deltas) == 0 {
		return false, fmt.Errorf("%w: no updates", ErrInvalidKey)
	}
	for _, d := range deltas {
		if err := d.Validate(); err != nil {
			return false, err
		}
	}
	if deltas = Merge(deltas); len(deltas) == 0 {
		return false, fmt.Errorf("%w: updates cancel out", ErrInvalidKey)
	}

	applicationID := "adj:" + key
	applied, err = s.Ledger.Apply(ctx, applicationID, deltas)
	if err != nil {
		return false, err
	}
	log := logging.FromContext(ctx).With(zap.String("application_id", applicationID))
	if !applied {
		log.Info("inventory_adjustment_replayed")
		return false, nil
	}
	for _, d := range deltas {
		dir := "restore"
		if d.Quantity < 0 {
			dir = "deduct"
		}
		telemetry.LedgerDeltas.WithLabelValues(dir).Inc()
	}
	log.Info("inventory_adjusted", zap.Int("updates", len(deltas)), zap.String("reason", reason))

	payload := events.InventoryAdjustedPayload{ApplicationID: applicationID, Reason: reason}
	for _, d := range deltas {
		payload.Updates = append(payload.Updates, events.ItemDelta{
			ProductID: d.ProductID, VariantID: d.VariantID, Size: d.Size, Quantity: d.Quantity,
		})
	}
	s.publish(ctx, payload, log)
	return true, nil
}

func (s *Service) publish(ctx context.Context, payload events.InventoryAdjustedPayload, log *zap.Logger) {
	if s.Publisher == nil {
		return
	}
	env, err := events.New(events.EventInventoryAdjusted, s.ServiceName, payload.ApplicationID, payload)
	if err != nil {
		log.Warn("event_encode_failed", zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	if err := s.Publisher.Publish(ctx, events.TopicInventoryAdjusted, payload.ProductIDs()[0], env); err != nil {
		log.Warn("event_publish_failed", zap.Error(err))
	}
}

// HandleAdjusted is the consumer handler for inventory.adjusted. It refreshes the
// summary of every product in the batch. Returning nil commits the offset.
func (s *Service) HandleAdjusted(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: nothing to retry
		logging.FromContext(ctx).Warn("inventory_event_undecodable", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventInventoryAdjusted {
		return nil
	}
	log := logging.FromContext(ctx).With(zap.String("event_id", env.EventID))

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			log.Debug("inventory_event_duplicate")
			return nil
		}
	}

	p, err := events.Decode[events.InventoryAdjustedPayload](env)
	if err != nil {
		log.Warn("inventory_event_undecodable", zap.Error(err))
		return nil
	}
	for _, id := range p.ProductIDs() {
		if _, err := s.Refresh(ctx, id); err != nil {
			if s.Dedup != nil {
				s.Dedup.Forget(ctx, env.EventID)
			}
			return fmt.Errorf("refresh availability of %s: %w", id, err)
		}
	}
	log.Info("availability_refreshed", zap.Strings("product_ids", p.ProductIDs()), zap.String("application_id", p.ApplicationID))
	return nil
}
