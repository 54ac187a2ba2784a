package inventory

import (
	"context"
	"fmt"
	"sync"
)

// Ledger is the per-variant, size-keyed availability store. Catalog management owns
// products; the ledger only reads them and moves their counters.
type Ledger interface {
	Product(ctx context.Context, productID string) (*Product, error)
	Availability(ctx context.Context, k Key) (int, error)
	// Apply adds every delta to its counter as one batch. applicationID makes the call
	// idempotent: a batch already applied under the same id is skipped and reported
	// with applied=false.
	Apply(ctx context.Context, applicationID string, deltas []Delta) (applied bool, err error)
}

// MemoryLedger keeps products in process. Used for tests and local runs.
type MemoryLedger struct {
	mu       sync.Mutex
	products map[string]*Product
	applied  map[string]struct{}
}

func NewMemoryLedger(products ...*Product) *MemoryLedger {
	l := &MemoryLedger{
		products: make(map[string]*Product),
		applied:  make(map[string]struct{}),
	}
	for _, p := range products {
		l.Put(p)
	}
	return l
}

// Put replaces the catalog entry for p.
func (l *MemoryLedger) Put(p *Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = p.Clone()
}

func (l *MemoryLedger) Product(_ context.Context, productID string) (*Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p.Clone(), nil
}

func (l *MemoryLedger) Availability(_ context.Context, k Key) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[k.ProductID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	n, ok := p.Lookup(k)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	return n, nil
}

func (l *MemoryLedger) Apply(_ context.Context, applicationID string, deltas []Delta) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if applicationID != "" {
		if _, done := l.applied[applicationID]; done {
			return false, nil
		}
	}

	// resolve every counter first so a bad key leaves the batch untouched
	counters := make([]*int, 0, len(deltas))
	for _, d := range deltas {
		c := l.counter(d.Key)
		if c == nil {
			return false, fmt.Errorf("%w: %s", ErrKeyNotFound, d.Key)
		}
		counters = append(counters, c)
	}
	for i, d := range deltas {
		*counters[i] += d.Quantity
	}
	if applicationID != "" {
		l.applied[applicationID] = struct{}{}
	}
	return true, nil
}

func (l *MemoryLedger) counter(k Key) *int {
	p, ok := l.products[k.ProductID]
	if !ok {
		return nil
	}
	for vi := range p.Variants {
		v := &p.Variants[vi]
		if v.ID != k.VariantID {
			continue
		}
		if !p.SizeType.Sized() {
			if k.Size != "" {
				return nil
			}
			return &v.Availability
		}
		for si := range v.Sizes {
			if v.Sizes[si].Size == k.Size {
				return &v.Sizes[si].Availability
			}
		}
	}
	return nil
}

// CheckAvailable fails with ErrInsufficientStock when a deduction would take any
// counter below zero. It is a point-in-time read, not a reservation.
func CheckAvailable(ctx context.Context, l Ledger, deltas []Delta) error {
	for _, d := range deltas {
		if d.Quantity >= 0 {
			continue
		}
		n, err := l.Availability(ctx, d.Key)
		if err != nil {
			return err
		}
		if n+d.Quantity < 0 {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientStock, d.Key, n, -d.Quantity)
		}
	}
	return nil
}
