package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/courier"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Executor carries out an intent's stages in order: ledger batch, then courier booking.
// Every stage is safe to repeat. The ledger skips a batch it has seen under the intent
// id and the courier answers a repeated invoice with the same consignment, so Run may be
// called again for the same intent after any failure.
type Executor struct {
	Store     Store
	Ledger    inventory.Ledger
	Courier   courier.Gateway
	Addresses courier.AddressParser
	Publisher events.Publisher
	Service   string
}

func (x *Executor) Run(ctx context.Context, in *Intent) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orders.intent", trace.WithAttributes(
		attribute.String("intent.id", in.ID),
		attribute.String("intent.kind", string(in.Kind)),
		attribute.String("order.id", in.OrderID),
	))
	log := logging.FromContext(ctx).With(
		zap.String("intent_id", in.ID),
		zap.String("order_id", in.OrderID),
		zap.String("kind", string(in.Kind)),
	)
	defer func() {
		telemetry.Intents.WithLabelValues(string(in.Kind), telemetry.Outcome(err)).Inc()
		telemetry.EndSpan(span, err)
	}()

	in.Attempts++
	if stepErr := x.steps(ctx, in, log); stepErr != nil {
		in.LastError = stepErr.Error()
		if saveErr := x.Store.SaveIntent(ctx, in); saveErr != nil {
			log.Warn("intent_save_failed", zap.Error(saveErr))
		}
		log.Error("intent_failed", zap.Int("attempts", in.Attempts), zap.Error(stepErr))
		return fmt.Errorf("%w: intent %s: %w", ErrPartialFailure, in.ID, stepErr)
	}

	in.State = IntentCompleted
	in.LastError = ""
	if saveErr := x.Store.SaveIntent(ctx, in); saveErr != nil {
		// every stage is done; the resumer replays the no-op stages and retries the save
		log.Warn("intent_save_failed", zap.Error(saveErr))
		return nil
	}
	log.Info("intent_completed", zap.Int("attempts", in.Attempts))
	return nil
}

func (x *Executor) steps(ctx context.Context, in *Intent, log *zap.Logger) error {
	if !in.ledgerDone() {
		applied, err := x.Ledger.Apply(ctx, in.ID, in.Deltas)
		if err != nil {
			return fmt.Errorf("apply ledger deltas: %w", err)
		}
		in.LedgerApplied = true
		if applied {
			countDeltas(in.Deltas)
			x.publishAdjusted(ctx, in, log)
		}
		if err := x.Store.SaveIntent(ctx, in); err != nil {
			log.Warn("intent_save_failed", zap.Error(err))
		}
	}

	if !in.consignDone() {
		o, err := x.Store.Get(ctx, in.OrderID)
		if errors.Is(err, ErrNotFound) {
			// order deleted before the booking went through; nothing left to ship
			log.Warn("consignment_skipped", zap.String("reason", "order deleted"))
			return nil
		}
		if err != nil {
			return err
		}
		if o.Status != StatusConfirmed || o.ConsignmentID != "" {
			// the order moved on or was booked by a later confirmation
			log.Warn("consignment_skipped",
				zap.String("reason", "order no longer awaits a booking"),
				zap.String("status", string(o.Status)),
				zap.String("consignment_id", o.ConsignmentID))
			return nil
		}
		id, err := x.consign(ctx, in, o)
		if err != nil {
			return err
		}
		in.ConsignmentID = id
		log.Info("consignment_created", zap.String("consignment_id", id))
	}
	return nil
}

// consign books the parcel and stores its id on the order. The intent id is the
// invoice, so a retry after a lost response gets the consignment already booked.
func (x *Executor) consign(ctx context.Context, in *Intent, o *Order) (string, error) {
	addr, err := x.Addresses.ParseAddress(ctx, o.Customer.Address)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	cons, err := x.Courier.CreateConsignment(ctx, courier.Shipment{
		Invoice:        in.ID,
		RecipientName:  o.Customer.Name,
		RecipientPhone: o.Customer.Phone,
		Address:        addr,
		CODAmount:      o.Total,
		Note:           o.Customer.Note,
	})
	if err != nil {
		return "", fmt.Errorf("create consignment: %w", err)
	}
	if err := x.Store.SetConsignment(ctx, o.ID, cons.ID); err != nil {
		return "", fmt.Errorf("store consignment %s: %w", cons.ID, err)
	}
	return cons.ID, nil
}

func (x *Executor) publishAdjusted(ctx context.Context, in *Intent, log *zap.Logger) {
	payload := events.InventoryAdjustedPayload{
		ApplicationID: in.ID,
		Reason:        string(in.Kind),
		OrderID:       in.OrderID,
		Updates:       toItemDeltas(in.Deltas),
	}
	publish(ctx, x.Publisher, x.Service, events.TopicInventoryAdjusted, events.EventInventoryAdjusted,
		payload.ProductIDs()[0], in.OrderID, payload, log)
}

func countDeltas(ds []inventory.Delta) {
	for _, d := range ds {
		dir := "restore"
		if d.Quantity < 0 {
			dir = "deduct"
		}
		telemetry.LedgerDeltas.WithLabelValues(dir).Inc()
	}
}

// publish is fire-and-forget: the mutation is already committed, so a lost event is
// logged rather than failing the call.
func publish(ctx context.Context, p events.Publisher, producer, topic, eventType, key, correlationID string, payload any, log *zap.Logger) {
	if p == nil {
		return
	}
	env, err := events.New(eventType, producer, correlationID, payload)
	if err != nil {
		log.Warn("event_encode_failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	if err := p.Publish(ctx, topic, key, env); err != nil {
		log.Warn("event_publish_failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
