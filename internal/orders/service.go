package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/courier"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StatusCache is the read-through cache behind Status.
type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (string, bool)
	SetStatus(ctx context.Context, orderID, status string)
	DeleteStatus(ctx context.Context, orderID string)
}

// CreateShortcut remembers external id -> order id so replays skip the store write path.
// The store stays authoritative.
type CreateShortcut interface {
	LookupOrder(ctx context.Context, externalID string) (string, bool)
	RememberOrder(ctx context.Context, externalID, orderID string)
}

type Service struct {
	Store     Store
	Ledger    inventory.Ledger
	Executor  *Executor
	Courier   courier.Gateway
	Publisher events.Publisher

	// optional
	Cache       StatusCache
	Idempotency CreateShortcut

	// StrictStock rejects mutations whose deductions exceed current availability.
	StrictStock bool
	// PhoneRegion normalizes customer phones to E.164; empty keeps them as sent.
	PhoneRegion string
	Name        string
}

type CreateInput struct {
	ExternalID string
	Lines      []CartLine
	Customer   Customer
	Channel    string
	Charges    Charges
	// Total, when set, must equal the computed total.
	Total     *decimal.Decimal
	Moderator string
}

type EditInput struct {
	Version   int64
	Lines     []CartLine
	Customer  Customer
	Charges   Charges
	Total     *decimal.Decimal
	Moderator string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (o *Order, existed bool, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orders.Create",
		trace.WithAttributes(attribute.String("order.external_id", in.ExternalID)))
	defer func() { telemetry.EndSpan(span, err) }()
	log := logging.FromContext(ctx)

	if in.ExternalID != "" && s.Idempotency != nil {
		if id, ok := s.Idempotency.LookupOrder(ctx, in.ExternalID); ok {
			if prev, err := s.Store.Get(ctx, id); err == nil {
				log.Info("order_create_replayed", zap.String("order_id", id), zap.String("external_id", in.ExternalID))
				return prev, true, nil
			}
		}
	}

	cart, err := s.buildCart(ctx, in.Lines)
	if err != nil {
		return nil, false, err
	}
	customer, err := s.normalizeCustomer(in.Customer)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	o = &Order{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		Cart:       cart,
		Customer:   customer,
		Channel:    in.Channel,
		Charges:    in.Charges,
		Status:     StatusPending,
		CreatedBy:  in.Moderator,
		UpdatedBy:  in.Moderator,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.recalculate(in.Total); err != nil {
		return nil, false, err
	}

	deltas := Deduct(cart)
	if s.StrictStock {
		if err := inventory.CheckAvailable(ctx, s.Ledger, deltas); err != nil {
			return nil, false, err
		}
	}
	intent := newIntent(o.ID, IntentCreate, deltas, false)

	stored, existed, err := s.Store.Create(ctx, o, intent)
	if err != nil {
		return nil, false, err
	}
	if existed {
		s.remember(ctx, stored)
		log.Info("order_create_replayed", zap.String("order_id", stored.ID), zap.String("external_id", in.ExternalID))
		return stored, true, nil
	}
	s.remember(ctx, stored)
	s.cacheStatus(ctx, stored)
	log.Info("order_created",
		zap.String("order_id", stored.ID),
		zap.Int("lines", cart.Len()),
		zap.String("total", stored.Total.String()),
		zap.String("moderator", in.Moderator))

	publish(ctx, s.Publisher, s.Name, events.TopicOrderCreated, events.EventOrderCreated, stored.ID, stored.ID,
		events.OrderCreatedPayload{
			OrderID:    stored.ID,
			ExternalID: stored.ExternalID,
			Channel:    stored.Channel,
			Lines:      toEventLines(stored.Cart),
			Total:      stored.Total.String(),
			CreatedBy:  stored.CreatedBy,
		}, log)

	runErr := s.run(ctx, intent)
	return s.reload(ctx, stored), false, runErr
}

// Edit replaces the order's cart, customer and charges. The ledger moves by the
// difference between the stored cart and the submitted one.
func (s *Service) Edit(ctx context.Context, id string, in EditInput) (o *Order, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orders.Edit", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { telemetry.EndSpan(span, err) }()
	log := logging.FromContext(ctx).With(zap.String("order_id", id))

	cart, err := s.buildCart(ctx, in.Lines)
	if err != nil {
		return nil, err
	}
	customer, err := s.normalizeCustomer(in.Customer)
	if err != nil {
		return nil, err
	}

	var (
		intent  *Intent
		deltas  []inventory.Delta
		changes []events.LineChange
	)
	o, err = s.Store.Update(ctx, id, in.Version, func(cur *Order) (*Intent, error) {
		changes = Compare(cur.Cart, cart)
		if !cur.Restocked {
			deltas = Reconcile(cur.Cart, cart)
		}
		if s.StrictStock {
			if err := inventory.CheckAvailable(ctx, s.Ledger, deltas); err != nil {
				return nil, err
			}
		}
		cur.Cart = cart
		cur.Customer = customer
		cur.Charges = in.Charges
		cur.UpdatedBy = in.Moderator
		if err := cur.recalculate(in.Total); err != nil {
			return nil, err
		}
		intent = newIntent(cur.ID, IntentEdit, deltas, false)
		return intent, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("order_edited",
		zap.Int64("version", o.Version),
		zap.Int("changes", len(changes)),
		zap.Int("deltas", len(deltas)),
		zap.String("total", o.Total.String()),
		zap.String("moderator", in.Moderator))

	publish(ctx, s.Publisher, s.Name, events.TopicOrderEdited, events.EventOrderEdited, o.ID, o.ID,
		events.OrderEditedPayload{
			OrderID:   o.ID,
			Version:   o.Version,
			Changes:   changes,
			Deltas:    toItemDeltas(deltas),
			Total:     o.Total.String(),
			UpdatedBy: in.Moderator,
		}, log)

	runErr := s.run(ctx, intent)
	return s.reload(ctx, o), runErr
}

// ChangeStatus moves the order along one edge of the transition table and carries out
// the edge's effects. A move to the current status changes nothing. The new status is
// kept even when an effect fails; the error then wraps ErrPartialFailure. Any booking
// still owed by an earlier confirmation is superseded by the store.
func (s *Service) ChangeStatus(ctx context.Context, id string, version int64, to Status, moderator string) (o *Order, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orders.ChangeStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(to)),
	))
	defer func() { telemetry.EndSpan(span, err) }()
	log := logging.FromContext(ctx).With(zap.String("order_id", id))

	var (
		from   Status
		effect Effect
		intent *Intent
	)
	o, err = s.Store.Update(ctx, id, version, func(cur *Order) (*Intent, error) {
		e, same, err := Transition(cur.Status, to)
		if err != nil {
			return nil, err
		}
		if same {
			return nil, errUnchanged
		}
		from, effect = cur.Status, e

		var deltas []inventory.Delta
		switch {
		case e.Has(EffectReclaim) && cur.Restocked:
			deltas = Deduct(cur.Cart)
			if s.StrictStock {
				if err := inventory.CheckAvailable(ctx, s.Ledger, deltas); err != nil {
					return nil, err
				}
			}
			cur.Restocked = false
		case e.Has(EffectRestock) && !cur.Restocked:
			deltas = Restock(cur.Cart)
			cur.Restocked = true
		}
		cur.Status = to
		cur.UpdatedBy = moderator
		intent = newIntent(cur.ID, IntentStatus, deltas, e.Has(EffectConsign))
		return intent, nil
	})
	if errors.Is(err, errUnchanged) {
		log.Debug("order_status_unchanged", zap.String("status", string(to)))
		return o, nil
	}
	if err != nil {
		return nil, err
	}
	s.cacheStatus(ctx, o)
	log.Info("order_status_changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("effect", effect.String()),
		zap.String("moderator", moderator))

	runErr := s.run(ctx, intent)
	o = s.reload(ctx, o)

	publish(ctx, s.Publisher, s.Name, events.TopicOrderStatusChanged, events.EventOrderStatusChanged, o.ID, o.ID,
		events.OrderStatusChangedPayload{
			OrderID:       o.ID,
			From:          string(from),
			To:            string(to),
			ConsignmentID: o.ConsignmentID,
			UpdatedBy:     moderator,
		}, log)
	return o, runErr
}

// Delete removes the order. Stock it still holds goes back to the ledger; an order
// already restocked by a return moves nothing.
func (s *Service) Delete(ctx context.Context, id string, version int64, moderator string) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orders.Delete", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { telemetry.EndSpan(span, err) }()
	log := logging.FromContext(ctx).With(zap.String("order_id", id))

	var intent *Intent
	_, err = s.Store.Delete(ctx, id, version, func(cur *Order) (*Intent, error) {
		var deltas []inventory.Delta
		if !cur.Restocked {
			deltas = Restock(cur.Cart)
		}
		intent = newIntent(cur.ID, IntentDelete, deltas, false)
		return intent, nil
	})
	if err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.DeleteStatus(ctx, id)
	}
	log.Info("order_deleted", zap.Bool("restocked", intent != nil), zap.String("moderator", moderator))

	publish(ctx, s.Publisher, s.Name, events.TopicOrderDeleted, events.EventOrderDeleted, id, id,
		events.OrderDeletedPayload{OrderID: id, Restocked: intent != nil, DeletedBy: moderator}, log)
	return s.run(ctx, intent)
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.Store.Get(ctx, id)
}

// Status answers from the cache when it can.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	if s.Cache != nil {
		if st, ok := s.Cache.GetStatus(ctx, id); ok {
			return Status(st), nil
		}
	}
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, o)
	return o.Status, nil
}

func (s *Service) ConsignmentStatus(ctx context.Context, id string) (courier.DeliveryState, error) {
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return courier.DeliveryState{}, err
	}
	if o.ConsignmentID == "" {
		return courier.DeliveryState{}, fmt.Errorf("%w: order %s has no consignment", ErrNotFound, id)
	}
	return s.Courier.ConsignmentStatus(ctx, o.ConsignmentID)
}

func (s *Service) SuccessRate(ctx context.Context, phone string) (courier.SuccessRate, error) {
	if s.PhoneRegion != "" {
		p, err := courier.NormalizePhone(phone, s.PhoneRegion)
		if err != nil {
			return courier.SuccessRate{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		phone = p
	}
	return s.Courier.CustomerSuccessRate(ctx, phone)
}

// buildCart validates submitted lines against the catalog: every product must exist,
// sizes must match its size type and the key must have a ledger counter. Unknown
// products and keys keep their not-found errors; shape problems are ErrValidation.
func (s *Service) buildCart(ctx context.Context, lines []CartLine) (Cart, error) {
	if len(lines) == 0 {
		return Cart{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	products := map[string]*inventory.Product{}
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			var err error
			if p, err = s.Ledger.Product(ctx, l.ProductID); err != nil {
				return Cart{}, fmt.Errorf("cart line %s: %w", l.Key(), err)
			}
			products[l.ProductID] = p
		}
		k, err := p.Normalize(l.Key())
		if err != nil {
			return Cart{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if _, ok := p.Lookup(k); !ok {
			return Cart{}, fmt.Errorf("cart line: %w: %s", inventory.ErrKeyNotFound, k)
		}
	}
	return NewCart(lines...)
}

func (s *Service) normalizeCustomer(c Customer) (Customer, error) {
	if c.Name == "" || c.Phone == "" || c.Address == "" {
		return c, fmt.Errorf("%w: customer name, phone and address are required", ErrValidation)
	}
	if s.PhoneRegion == "" {
		return c, nil
	}
	p, err := courier.NormalizePhone(c.Phone, s.PhoneRegion)
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	c.Phone = p
	return c, nil
}

func (s *Service) run(ctx context.Context, in *Intent) error {
	if in == nil {
		return nil
	}
	return s.Executor.Run(ctx, in)
}

// reload re-reads o so the caller sees consignment ids and pending counts written by
// the executor. The committed copy is returned if the read fails.
func (s *Service) reload(ctx context.Context, o *Order) *Order {
	fresh, err := s.Store.Get(ctx, o.ID)
	if err != nil {
		return o
	}
	return fresh
}

func (s *Service) remember(ctx context.Context, o *Order) {
	if s.Idempotency != nil && o.ExternalID != "" {
		s.Idempotency.RememberOrder(ctx, o.ExternalID, o.ID)
	}
}

func (s *Service) cacheStatus(ctx context.Context, o *Order) {
	if s.Cache != nil {
		s.Cache.SetStatus(ctx, o.ID, string(o.Status))
	}
}
