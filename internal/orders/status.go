package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusExchange  Status = "exchange"
	StatusDelivered Status = "delivered"
	StatusReturned  Status = "returned"
	StatusRefund    Status = "refund"
)

var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusShipped, StatusExchange,
	StatusDelivered, StatusReturned, StatusRefund,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Effect is the set of side effects attached to a transition edge.
type Effect uint8

const EffectNone Effect = 0

const (
	// EffectConsign books a courier consignment and stores its id on the order.
	EffectConsign Effect = 1 << iota
	// EffectRestock restores every cart line to the ledger.
	EffectRestock
	// EffectReclaim deducts the cart again when a returned order is reopened.
	EffectReclaim
)

func (e Effect) Has(f Effect) bool { return e&f != 0 }

func (e Effect) String() string {
	if e == EffectNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Effect
		name string
	}{{EffectReclaim, "reclaim"}, {EffectRestock, "restock"}, {EffectConsign, "consign"}} {
		if e.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "+")
}

// transitions lists every legal edge and its effects. The business does not restrict
// the graph, so every distinct pair is present; adding a status means adding its row
// and its column here.
var transitions = map[Status]map[Status]Effect{
	StatusPending: {
		StatusConfirmed: EffectConsign, StatusShipped: EffectNone, StatusExchange: EffectNone,
		StatusDelivered: EffectNone, StatusReturned: EffectRestock, StatusRefund: EffectNone,
	},
	StatusConfirmed: {
		StatusPending: EffectNone, StatusShipped: EffectNone, StatusExchange: EffectNone,
		StatusDelivered: EffectNone, StatusReturned: EffectRestock, StatusRefund: EffectNone,
	},
	StatusShipped: {
		StatusPending: EffectNone, StatusConfirmed: EffectConsign, StatusExchange: EffectNone,
		StatusDelivered: EffectNone, StatusReturned: EffectRestock, StatusRefund: EffectNone,
	},
	StatusExchange: {
		StatusPending: EffectNone, StatusConfirmed: EffectConsign, StatusShipped: EffectNone,
		StatusDelivered: EffectNone, StatusReturned: EffectRestock, StatusRefund: EffectNone,
	},
	StatusDelivered: {
		StatusPending: EffectNone, StatusConfirmed: EffectConsign, StatusShipped: EffectNone,
		StatusExchange: EffectNone, StatusReturned: EffectRestock, StatusRefund: EffectNone,
	},
	StatusReturned: {
		StatusPending: EffectReclaim, StatusConfirmed: EffectReclaim | EffectConsign, StatusShipped: EffectReclaim,
		StatusExchange: EffectReclaim, StatusDelivered: EffectReclaim, StatusRefund: EffectReclaim,
	},
	StatusRefund: {
		StatusPending: EffectNone, StatusConfirmed: EffectConsign, StatusShipped: EffectNone,
		StatusExchange: EffectNone, StatusDelivered: EffectNone, StatusReturned: EffectRestock,
	},
}

// Transition resolves the edge from -> to. Staying in the same status reports
// same=true with EffectNone.
func Transition(from, to Status) (effect Effect, same bool, err error) {
	if from == to {
		if _, known := transitions[from]; !known {
			return EffectNone, false, fmt.Errorf("%w: unknown status %q", ErrValidation, from)
		}
		return EffectNone, true, nil
	}
	row, ok := transitions[from]
	if !ok {
		return EffectNone, false, fmt.Errorf("%w: unknown status %q", ErrValidation, from)
	}
	e, ok := row[to]
	if !ok {
		return EffectNone, false, fmt.Errorf("%w: %s -> %s is not a transition", ErrValidation, from, to)
	}
	return e, false, nil
}

func CanTransition(from, to Status) bool {
	_, _, err := Transition(from, to)
	return err == nil
}
