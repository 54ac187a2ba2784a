package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu   sync.Mutex
	m    map[string]Summary
	sets int
}

func (c *mapCache) GetSummary(_ context.Context, id string) (Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	return s, ok, nil
}

func (c *mapCache) SetSummary(_ context.Context, s Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]Summary{}
	}
	c.m[s.ProductID] = s
	c.sets++
	return nil
}

type setDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *setDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *setDedup) Forget(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

type capture struct {
	mu   sync.Mutex
	envs []events.Envelope
	keys []string
}

func (c *capture) Publish(_ context.Context, topic, key string, env events.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic != events.TopicInventoryAdjusted {
		return errors.New("unexpected topic " + topic)
	}
	c.envs = append(c.envs, env)
	c.keys = append(c.keys, key)
	return nil
}

func message(t *testing.T, env events.Envelope) kafkago.Message {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}
}

func TestAdjustPublishesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))
	pub := &capture{}
	svc := &Service{Ledger: l, Publisher: pub, ServiceName: "test"}
	m := Key{ProductID: "P1", VariantID: "V1", Size: "M"}

	applied, err := svc.Adjust(ctx, "restock-42", "restock", []Delta{{Key: m, Quantity: 4}})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Adjust(ctx, "restock-42", "restock", []Delta{{Key: m, Quantity: 4}})
	require.NoError(t, err)
	assert.False(t, applied)

	n, _ := l.Availability(ctx, m)
	assert.Equal(t, 14, n)

	require.Len(t, pub.envs, 1)
	assert.Equal(t, "P1", pub.keys[0])
	p, err := events.Decode[events.InventoryAdjustedPayload](pub.envs[0])
	require.NoError(t, err)
	assert.Equal(t, "adj:restock-42", p.ApplicationID)
	assert.Equal(t, []events.ItemDelta{{ProductID: "P1", VariantID: "V1", Size: "M", Quantity: 4}}, p.Updates)
}

// batchLedger records the batches it is asked to apply.
type batchLedger struct {
	Ledger
	batches [][]Delta
}

func (l *batchLedger) Apply(ctx context.Context, id string, ds []Delta) (bool, error) {
	l.batches = append(l.batches, append([]Delta(nil), ds...))
	return l.Ledger.Apply(ctx, id, ds)
}

func TestAdjustAppliesBatchInKeyOrder(t *testing.T) {
	ctx := context.Background()
	l := &batchLedger{Ledger: NewMemoryLedger(shirt(10, 5))}
	svc := &Service{Ledger: l, ServiceName: "test"}
	m := Key{ProductID: "P1", VariantID: "V1", Size: "M"}
	lg := Key{ProductID: "P1", VariantID: "V1", Size: "L"}
	v2 := Key{ProductID: "P1", VariantID: "V2", Size: "M"}

	applied, err := svc.Adjust(ctx, "count-1", "stock count", []Delta{
		{Key: v2, Quantity: 3},
		{Key: m, Quantity: 2},
		{Key: lg, Quantity: -1},
		{Key: m, Quantity: 1},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	require.Len(t, l.batches, 1)
	assert.Equal(t, []Delta{
		{Key: lg, Quantity: -1},
		{Key: m, Quantity: 3},
		{Key: v2, Quantity: 3},
	}, l.batches[0])

	n, _ := l.Availability(ctx, m)
	assert.Equal(t, 13, n)

	_, err = svc.Adjust(ctx, "count-2", "x", []Delta{{Key: m, Quantity: 2}, {Key: m, Quantity: -2}})
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Len(t, l.batches, 1)
}

func TestAdjustRejectsBadInput(t *testing.T) {
	svc := &Service{Ledger: NewMemoryLedger(shirt(10, 5))}
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "", "x", []Delta{{Key: Key{ProductID: "P1", VariantID: "V1", Size: "M"}, Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = svc.Adjust(ctx, "k", "x", nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = svc.Adjust(ctx, "k", "x", []Delta{{Key: Key{ProductID: "P1"}, Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = svc.Adjust(ctx, "k", "x", []Delta{{Key: Key{ProductID: "P1", VariantID: "V1", Size: "XXL"}, Quantity: 1}})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAvailabilityUsesCache(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))
	cache := &mapCache{}
	svc := &Service{Ledger: l, Cache: cache}

	first, err := svc.Availability(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 15, first.Total)
	assert.Equal(t, 1, cache.sets)

	// ledger moves, cached answer stays until refreshed
	_, err = l.Apply(ctx, "", []Delta{{Key: Key{ProductID: "P1", VariantID: "V1", Size: "M"}, Quantity: -10}})
	require.NoError(t, err)
	again, err := svc.Availability(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	fresh, err := svc.Refresh(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.Total)

	_, err = svc.Availability(ctx, "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestHandleAdjustedRefreshesOncePerEvent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))
	cache := &mapCache{}
	svc := &Service{Ledger: l, Cache: cache, Dedup: &setDedup{}}

	env, err := events.New(events.EventInventoryAdjusted, "orders", "o-1", events.InventoryAdjustedPayload{
		ApplicationID: "intent-1",
		Updates:       []events.ItemDelta{{ProductID: "P1", VariantID: "V1", Size: "M", Quantity: -1}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandleAdjusted(ctx, message(t, env)))
	require.NoError(t, svc.HandleAdjusted(ctx, message(t, env)))
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 15, cache.m["P1"].Total)
}

func TestHandleAdjustedForgetsOnFailure(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	dedup := &setDedup{}
	svc := &Service{Ledger: l, Cache: &mapCache{}, Dedup: dedup}

	env, err := events.New(events.EventInventoryAdjusted, "orders", "", events.InventoryAdjustedPayload{
		ApplicationID: "intent-2",
		Updates:       []events.ItemDelta{{ProductID: "P1", VariantID: "V1", Size: "M", Quantity: 1}},
	})
	require.NoError(t, err)

	err = svc.HandleAdjusted(ctx, message(t, env))
	assert.ErrorIs(t, err, ErrProductNotFound)

	// the product shows up, a redelivery now succeeds
	l.Put(shirt(1, 1))
	require.NoError(t, svc.HandleAdjusted(ctx, message(t, env)))
}

func TestHandleAdjustedIgnoresForeignAndBrokenMessages(t *testing.T) {
	svc := &Service{Ledger: NewMemoryLedger(), Dedup: &setDedup{}}
	ctx := context.Background()

	assert.NoError(t, svc.HandleAdjusted(ctx, kafkago.Message{Value: []byte("{not json")}))

	env, err := events.New(events.EventOrderCreated, "orders", "o-1", map[string]string{"order_id": "o-1"})
	require.NoError(t, err)
	assert.NoError(t, svc.HandleAdjusted(ctx, message(t, env)))
}
