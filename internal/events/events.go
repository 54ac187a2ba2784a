package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderEdited        = "OrderEdited"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDeleted       = "OrderDeleted"
	EventInventoryAdjusted  = "InventoryAdjusted"
)

const Version = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

func New(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Decode unwraps the payload of env into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// Publisher delivers an envelope to a topic. key selects the partition.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, env Envelope) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, string, Envelope) error { return nil }

// ---- payloads ----

type ItemDelta struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

type Line struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	ExternalID string `json:"external_id,omitempty"`
	Channel    string `json:"channel"`
	Lines      []Line `json:"lines"`
	Total      string `json:"total"`
	CreatedBy  string `json:"created_by,omitempty"`
}

type LineChange struct {
	Kind      string `json:"kind"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	FromSize  string `json:"from_size,omitempty"`
	ToSize    string `json:"to_size,omitempty"`
	FromQty   int    `json:"from_qty"`
	ToQty     int    `json:"to_qty"`
}

type OrderEditedPayload struct {
	OrderID   string       `json:"order_id"`
	Version   int64        `json:"version"`
	Changes   []LineChange `json:"changes,omitempty"`
	Deltas    []ItemDelta  `json:"deltas,omitempty"`
	Total     string       `json:"total"`
	UpdatedBy string       `json:"updated_by,omitempty"`
}

type OrderStatusChangedPayload struct {
	OrderID       string `json:"order_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	ConsignmentID string `json:"consignment_id,omitempty"`
	UpdatedBy     string `json:"updated_by,omitempty"`
}

type OrderDeletedPayload struct {
	OrderID   string `json:"order_id"`
	Restocked bool   `json:"restocked"`
	DeletedBy string `json:"deleted_by,omitempty"`
}

type InventoryAdjustedPayload struct {
	ApplicationID string      `json:"application_id"`
	Reason        string      `json:"reason"`
	OrderID       string      `json:"order_id,omitempty"`
	Updates       []ItemDelta `json:"updates"`
}

// ProductIDs lists the distinct products touched by the adjustment, in first-seen order.
func (p InventoryAdjustedPayload) ProductIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range p.Updates {
		if !seen[u.ProductID] {
			seen[u.ProductID] = true
			out = append(out, u.ProductID)
		}
	}
	return out
}
