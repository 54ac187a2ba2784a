package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerApply(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))
	m := Key{ProductID: "P1", VariantID: "V1", Size: "M"}
	lg := Key{ProductID: "P1", VariantID: "V1", Size: "L"}

	applied, err := l.Apply(ctx, "a-1", []Delta{{Key: m, Quantity: -2}, {Key: lg, Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, applied)

	n, err := l.Availability(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	n, _ = l.Availability(ctx, lg)
	assert.Equal(t, 6, n)
}

func TestMemoryLedgerApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))
	m := Key{ProductID: "P1", VariantID: "V1", Size: "M"}

	for i := 0; i < 3; i++ {
		_, err := l.Apply(ctx, "same-id", []Delta{{Key: m, Quantity: -1}})
		require.NoError(t, err)
	}
	n, _ := l.Availability(ctx, m)
	assert.Equal(t, 9, n)
}

func TestMemoryLedgerUnknownKeyLeavesBatchUntouched(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))
	m := Key{ProductID: "P1", VariantID: "V1", Size: "M"}

	_, err := l.Apply(ctx, "a-1", []Delta{
		{Key: m, Quantity: -1},
		{Key: Key{ProductID: "P1", VariantID: "V1", Size: "XXL"}, Quantity: -1},
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)

	n, _ := l.Availability(ctx, m)
	assert.Equal(t, 10, n)

	// a failed batch does not consume its id
	applied, err := l.Apply(ctx, "a-1", []Delta{{Key: m, Quantity: -1}})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMemoryLedgerConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(&Product{ID: "P2", SizeType: SizeFree, Variants: []Variant{{ID: "V1", Availability: 100}}})
	k := Key{ProductID: "P2", VariantID: "V1"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Apply(ctx, "", []Delta{{Key: k, Quantity: -1}})
		}()
	}
	wg.Wait()

	n, _ := l.Availability(ctx, k)
	assert.Equal(t, 50, n)
}

func TestMemoryLedgerProductIsACopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(10, 5))

	p, err := l.Product(ctx, "P1")
	require.NoError(t, err)
	p.Variants[0].Sizes[0].Availability = 0

	n, _ := l.Availability(ctx, Key{ProductID: "P1", VariantID: "V1", Size: "M"})
	assert.Equal(t, 10, n)

	_, err = l.Product(ctx, "nope")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCheckAvailable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(shirt(2, 0))
	m := Key{ProductID: "P1", VariantID: "V1", Size: "M"}
	lg := Key{ProductID: "P1", VariantID: "V1", Size: "L"}

	assert.NoError(t, CheckAvailable(ctx, l, []Delta{{Key: m, Quantity: -2}, {Key: lg, Quantity: 3}}))
	assert.ErrorIs(t, CheckAvailable(ctx, l, []Delta{{Key: lg, Quantity: -1}}), ErrInsufficientStock)
	assert.ErrorIs(t, CheckAvailable(ctx, l, []Delta{{Key: Key{ProductID: "X", VariantID: "V"}, Quantity: -1}}), ErrKeyNotFound)
}
