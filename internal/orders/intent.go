package orders

import (
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/google/uuid"
)

type IntentKind string

const (
	IntentCreate IntentKind = "create"
	IntentEdit   IntentKind = "edit"
	IntentStatus IntentKind = "status"
	IntentDelete IntentKind = "delete"
)

type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentCompleted IntentState = "completed"
	// IntentSuperseded marks a booking a later status change made moot.
	IntentSuperseded IntentState = "superseded"
)

// Intent records the side effects an order mutation still owes: a ledger batch, a
// courier booking, or both. It is written in the same transaction as the mutation and
// completed once every stage has succeeded, so a crash or a failed call between the two
// can be resumed.
type Intent struct {
	ID      string            `json:"id"`
	OrderID string            `json:"order_id"`
	Kind    IntentKind        `json:"kind"`
	Deltas  []inventory.Delta `json:"deltas,omitempty"`
	Consign bool              `json:"consign"`

	LedgerApplied bool        `json:"ledger_applied"`
	ConsignmentID string      `json:"consignment_id,omitempty"`
	State         IntentState `json:"state"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"last_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// newIntent returns nil when there is nothing to do.
func newIntent(orderID string, kind IntentKind, deltas []inventory.Delta, consign bool) *Intent {
	if len(deltas) == 0 && !consign {
		return nil
	}
	now := time.Now().UTC()
	return &Intent{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Kind:      kind,
		Deltas:    deltas,
		Consign:   consign,
		State:     IntentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (in *Intent) ledgerDone() bool  { return len(in.Deltas) == 0 || in.LedgerApplied }
func (in *Intent) consignDone() bool { return !in.Consign || in.ConsignmentID != "" }

// supersedable reports whether in only owes a courier booking, which a later status
// change replaces.
func (in *Intent) supersedable() bool {
	return in.State == IntentPending && in.ledgerDone() && !in.consignDone()
}

func (in *Intent) Clone() *Intent {
	cp := *in
	cp.Deltas = append([]inventory.Delta(nil), in.Deltas...)
	return &cp
}
