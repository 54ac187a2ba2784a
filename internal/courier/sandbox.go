package courier

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Sandbox is an in-process courier for local runs and tests. Consignment ids are
// sequential and a repeated invoice returns the consignment booked for it.
type Sandbox struct {
	mu        sync.Mutex
	seq       int
	byInvoice map[string]Consignment
	states    map[string]string
	rates     map[string]SuccessRate
	fail      error
	calls     int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		byInvoice: map[string]Consignment{},
		states:    map[string]string{},
		rates:     map[string]SuccessRate{},
	}
}

// SetFail makes every call return err until it is cleared with nil.
func (s *Sandbox) SetFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// CreateCalls counts CreateConsignment calls, failed ones included.
func (s *Sandbox) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Sandbox) CreateConsignment(_ context.Context, sh Shipment) (Consignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return Consignment{}, s.fail
	}
	if sh.Invoice == "" || sh.RecipientPhone == "" {
		return Consignment{}, fmt.Errorf("%w: invoice and recipient phone are required", ErrRejected)
	}
	if c, ok := s.byInvoice[sh.Invoice]; ok {
		return c, nil
	}
	s.seq++
	c := Consignment{
		ID:           fmt.Sprintf("SBX-%06d", s.seq),
		TrackingCode: fmt.Sprintf("TRK%06d", s.seq),
		Status:       "in_review",
	}
	s.byInvoice[sh.Invoice] = c
	s.states[c.ID] = c.Status
	return c, nil
}

func (s *Sandbox) ConsignmentStatus(_ context.Context, id string) (DeliveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return DeliveryState{}, s.fail
	}
	st, ok := s.states[id]
	if !ok {
		return DeliveryState{}, fmt.Errorf("%w: unknown consignment %s", ErrRejected, id)
	}
	return DeliveryState{ConsignmentID: id, State: st}, nil
}

// SetState moves a sandbox consignment to state, as the courier would while delivering.
func (s *Sandbox) SetState(id, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
}

func (s *Sandbox) CustomerSuccessRate(_ context.Context, phone string) (SuccessRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return SuccessRate{}, s.fail
	}
	return s.rates[phone], nil
}

func (s *Sandbox) SetSuccessRate(phone string, r SuccessRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[phone] = r
}

// ParseAddress splits on commas: the last part is the city, the rest is the line.
func (s *Sandbox) ParseAddress(_ context.Context, raw string) (Address, error) {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return Address{}, fmt.Errorf("%w: empty address", ErrRejected)
	case 1:
		return Address{Line: parts[0]}, nil
	}
	return Address{
		Line: strings.Join(parts[:len(parts)-1], ", "),
		City: parts[len(parts)-1],
	}, nil
}
