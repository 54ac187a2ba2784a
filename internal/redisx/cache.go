package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/redis/go-redis/v9"
)

// Caches below are shortcuts in front of Postgres. Redis errors are swallowed on the
// write side and read as a miss; the store stays the source of truth.

type StatusCache struct{ R *redis.Client }

type statusDoc struct {
	Status string `json:"status"`
}

func (c StatusCache) GetStatus(ctx context.Context, orderID string) (string, bool) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || s == "" {
		return "", false
	}
	var doc statusDoc
	if json.Unmarshal([]byte(s), &doc) != nil || doc.Status == "" {
		return "", false
	}
	return doc.Status, true
}

func (c StatusCache) SetStatus(ctx context.Context, orderID, status string) {
	b, _ := json.Marshal(statusDoc{Status: status})
	_ = c.R.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

func (c StatusCache) DeleteStatus(ctx context.Context, orderID string) {
	_ = c.R.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

type Idempotency struct{ R *redis.Client }

func (i Idempotency) LookupOrder(ctx context.Context, externalID string) (string, bool) {
	id, err := i.R.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Result()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (i Idempotency) RememberOrder(ctx context.Context, externalID, orderID string) {
	_ = i.R.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

// Dedup marks processed event ids per consumer.
type Dedup struct {
	R       *redis.Client
	Service string
}

// FirstSeen atomically claims id. It is false when the id was claimed before.
func (d Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.R.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}

// Forget releases a claim so a failed event can be processed again on redelivery.
func (d Dedup) Forget(ctx context.Context, id string) {
	_ = d.R.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}

// AvailabilityCache holds the latest inventory.Summary per product.
type AvailabilityCache struct{ R *redis.Client }

func (c AvailabilityCache) GetSummary(ctx context.Context, productID string) (inventory.Summary, bool, error) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyAvailability, productID)).Result()
	if errors.Is(err, redis.Nil) {
		return inventory.Summary{}, false, nil
	}
	if err != nil {
		return inventory.Summary{}, false, err
	}
	var sum inventory.Summary
	if err := json.Unmarshal([]byte(s), &sum); err != nil {
		return inventory.Summary{}, false, err
	}
	return sum, true, nil
}

func (c AvailabilityCache) SetSummary(ctx context.Context, sum inventory.Summary) error {
	b, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, fmt.Sprintf(KeyAvailability, sum.ProductID), b, TTLAvailability).Err()
}
