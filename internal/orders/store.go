package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// errUnchanged lets a mutate callback end an update without writing.
var errUnchanged = errors.New("order: unchanged")

const supersededReason = "superseded by a later status change"

// Mutation edits cur in place and returns the intent to persist with it (nil when the
// mutation owes no side effect).
type Mutation func(cur *Order) (*Intent, error)

// Store persists orders and their intents. Update and Delete compare expectedVersion
// against the stored version and fail with ErrVersionConflict on mismatch; the mutation
// runs against the stored row inside the same transaction as the write. An Update that
// changes the status marks the order's intents that only owe a courier booking as
// IntentSuperseded before the new intent is stored.
type Store interface {
	// Create inserts o and in. When o.ExternalID is already taken the stored order is
	// returned with existed=true and nothing is written.
	Create(ctx context.Context, o *Order, in *Intent) (stored *Order, existed bool, err error)
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*Order, error)
	Delete(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*Order, error)

	// SetConsignment stores the courier id without bumping the version.
	SetConsignment(ctx context.Context, orderID, consignmentID string) error

	Intent(ctx context.Context, id string) (*Intent, error)
	SaveIntent(ctx context.Context, in *Intent) error
	// PendingIntents lists pending intents oldest first.
	PendingIntents(ctx context.Context, limit int) ([]*Intent, error)
}

// MemoryStore keeps orders in process; reads return copies.
type MemoryStore struct {
	mu         sync.Mutex
	orders     map[string]*Order
	byExternal map[string]string
	intents    map[string]*Intent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     map[string]*Order{},
		byExternal: map[string]string{},
		intents:    map[string]*Intent{},
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Order, in *Intent) (*Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ExternalID != "" {
		if id, ok := s.byExternal[o.ExternalID]; ok {
			return s.withPending(s.orders[id]), true, nil
		}
	}
	if _, ok := s.orders[o.ID]; ok {
		return nil, false, fmt.Errorf("%w: %s", ErrAlreadyExists, o.ID)
	}
	s.orders[o.ID] = o.Clone()
	if o.ExternalID != "" {
		s.byExternal[o.ExternalID] = o.ID
	}
	if in != nil {
		s.intents[in.ID] = in.Clone()
	}
	return s.withPending(o), false, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.withPending(o), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, expectedVersion int64, mutate Mutation) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.current(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	prev := cur.Status
	in, err := mutate(cur)
	if errors.Is(err, errUnchanged) {
		return s.withPending(s.orders[id]), errUnchanged
	}
	if err != nil {
		return nil, err
	}
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = time.Now().UTC()
	s.orders[id] = cur
	if cur.Status != prev {
		for _, old := range s.intents {
			if old.OrderID == id && old.supersedable() {
				old.State = IntentSuperseded
				old.LastError = supersededReason
				old.UpdatedAt = cur.UpdatedAt
			}
		}
	}
	if in != nil {
		s.intents[in.ID] = in.Clone()
	}
	return s.withPending(cur), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, expectedVersion int64, mutate Mutation) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.current(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	in, err := mutate(cur)
	if err != nil {
		return nil, err
	}
	delete(s.orders, id)
	if cur.ExternalID != "" {
		delete(s.byExternal, cur.ExternalID)
	}
	if in != nil {
		s.intents[in.ID] = in.Clone()
	}
	return cur, nil
}

func (s *MemoryStore) current(id string, expectedVersion int64) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if o.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s is at version %d, not %d", ErrVersionConflict, id, o.Version, expectedVersion)
	}
	return o.Clone(), nil
}

func (s *MemoryStore) SetConsignment(_ context.Context, orderID, consignmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	o.ConsignmentID = consignmentID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Intent(_ context.Context, id string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, id)
	}
	return in.Clone(), nil
}

func (s *MemoryStore) SaveIntent(_ context.Context, in *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[in.ID]; !ok {
		return fmt.Errorf("%w: intent %s", ErrNotFound, in.ID)
	}
	cp := in.Clone()
	cp.UpdatedAt = time.Now().UTC()
	s.intents[in.ID] = cp
	return nil
}

func (s *MemoryStore) PendingIntents(_ context.Context, limit int) ([]*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Intent
	for _, in := range s.intents {
		if in.State == IntentPending {
			out = append(out, in.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// withPending copies o and counts its open intents. Callers hold mu.
func (s *MemoryStore) withPending(o *Order) *Order {
	cp := o.Clone()
	cp.PendingEffects = 0
	for _, in := range s.intents {
		if in.OrderID == o.ID && in.State == IntentPending {
			cp.PendingEffects++
		}
	}
	return cp
}
