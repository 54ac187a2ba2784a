package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation      = errors.New("order: validation failed")
	ErrNotFound        = errors.New("order: not found")
	ErrAlreadyExists   = errors.New("order: already exists")
	ErrVersionConflict = errors.New("order: version conflict")
	// ErrPartialFailure means the order mutation was committed but a side effect was not.
	ErrPartialFailure = errors.New("order: side effect failed after commit")
)

type Customer struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address" validate:"required"`
	Note    string `json:"note,omitempty"`
}

// Charges are the order-level amounts applied on top of the cart total.
type Charges struct {
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Discount       decimal.Decimal `json:"discount"`
	AdvancePayment decimal.Decimal `json:"advance_payment"`
}

// moneyScale is the number of decimal places amounts are stored with.
const moneyScale = 2

func wholeCents(d decimal.Decimal) bool { return d.Equal(d.Round(moneyScale)) }

func (c Charges) validate() error {
	switch {
	case c.ShippingCost.IsNegative():
		return fmt.Errorf("%w: shipping cost must not be negative", ErrValidation)
	case c.Discount.IsNegative():
		return fmt.Errorf("%w: discount must not be negative", ErrValidation)
	case c.AdvancePayment.IsNegative():
		return fmt.Errorf("%w: advance payment must not be negative", ErrValidation)
	case !wholeCents(c.ShippingCost), !wholeCents(c.Discount), !wholeCents(c.AdvancePayment):
		return fmt.Errorf("%w: charges have more than %d decimal places", ErrValidation, moneyScale)
	}
	return nil
}

// OrderTotal is cart total + shipping - discount - advance payment.
func OrderTotal(c Cart, ch Charges) decimal.Decimal {
	return c.Total().Add(ch.ShippingCost).Sub(ch.Discount).Sub(ch.AdvancePayment)
}

type Order struct {
	ID         string   `json:"id"`
	ExternalID string   `json:"external_id,omitempty"`
	Cart       Cart     `json:"cart"`
	Customer   Customer `json:"customer"`
	Channel    string   `json:"channel,omitempty"`

	Charges
	Total decimal.Decimal `json:"total"`

	Status        Status `json:"status"`
	ConsignmentID string `json:"consignment_id,omitempty"`

	// Restocked is set while the order sits in returned with its cart back on the
	// ledger. Edits and deletion then move no counters; leaving returned deducts the
	// cart again and clears it.
	Restocked bool `json:"restocked"`

	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PendingEffects counts intents of this order that have not completed.
	PendingEffects int `json:"pending_effects"`
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.Cart = o.Cart.Clone()
	return &cp
}

// recalculate sets Total from the cart and charges. A non-nil submitted total must
// agree with the computed one.
func (o *Order) recalculate(submitted *decimal.Decimal) error {
	if err := o.Charges.validate(); err != nil {
		return err
	}
	total := OrderTotal(o.Cart, o.Charges)
	if submitted != nil && !submitted.Equal(total) {
		return fmt.Errorf("%w: total %s does not match computed %s", ErrValidation, submitted.String(), total.String())
	}
	o.Total = total
	return nil
}
