package orders

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/shopspring/decimal"
)

type CartLine struct {
	ProductID string          `json:"product_id" validate:"required"`
	VariantID string          `json:"variant_id" validate:"required"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l CartLine) Key() inventory.Key {
	return inventory.Key{ProductID: l.ProductID, VariantID: l.VariantID, Size: l.Size}
}

func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) validate() error {
	if err := l.Key().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: quantity for %s must be greater than zero", ErrValidation, l.Key())
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price for %s must not be negative", ErrValidation, l.Key())
	}
	if !wholeCents(l.UnitPrice) {
		return fmt.Errorf("%w: unit price for %s has more than %d decimal places", ErrValidation, l.Key(), moneyScale)
	}
	return nil
}

// Cart holds one line per (product, variant, size). Two lines can never share a key,
// so matching an edited cart against the stored one is never ambiguous. Insertion order
// is kept for display. The zero value is an empty cart.
type Cart struct {
	lines map[inventory.Key]*CartLine
	order []inventory.Key
}

// NewCart builds a cart from submitted lines. Lines repeating a key are merged when
// their unit prices agree and rejected otherwise.
func NewCart(lines ...CartLine) (Cart, error) {
	var c Cart
	for _, l := range lines {
		if err := l.validate(); err != nil {
			return Cart{}, err
		}
		if prev, ok := c.lines[l.Key()]; ok && !prev.UnitPrice.Equal(l.UnitPrice) {
			return Cart{}, fmt.Errorf("%w: %s listed twice with different unit prices", ErrValidation, l.Key())
		}
		c.put(l)
	}
	return c, nil
}

// Add appends l or, when its key is already in the cart, increments that line's quantity.
func (c *Cart) Add(l CartLine) error {
	if err := l.validate(); err != nil {
		return err
	}
	c.put(l)
	return nil
}

func (c *Cart) put(l CartLine) {
	if c.lines == nil {
		c.lines = make(map[inventory.Key]*CartLine)
	}
	k := l.Key()
	if prev, ok := c.lines[k]; ok {
		prev.Quantity += l.Quantity
		return
	}
	cp := l
	c.lines[k] = &cp
	c.order = append(c.order, k)
}

func (c *Cart) Remove(k inventory.Key) bool {
	if _, ok := c.lines[k]; !ok {
		return false
	}
	delete(c.lines, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *Cart) SetQuantity(k inventory.Key, qty int) error {
	l, ok := c.lines[k]
	if !ok {
		return fmt.Errorf("%w: %s is not in the cart", ErrValidation, k)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity for %s must be greater than zero", ErrValidation, k)
	}
	l.Quantity = qty
	return nil
}

// Rekey moves a line to another size or variant keeping its quantity and price. If the
// target key is already present the quantities are combined.
func (c *Cart) Rekey(from, to inventory.Key) error {
	if from == to {
		return nil
	}
	l, ok := c.lines[from]
	if !ok {
		return fmt.Errorf("%w: %s is not in the cart", ErrValidation, from)
	}
	if err := to.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	moved := *l
	moved.ProductID, moved.VariantID, moved.Size = to.ProductID, to.VariantID, to.Size

	if _, exists := c.lines[to]; exists {
		c.Remove(from)
		c.put(moved)
		return nil
	}
	delete(c.lines, from)
	c.lines[to] = &moved
	for i, o := range c.order {
		if o == from {
			c.order[i] = to
			break
		}
	}
	return nil
}

func (c Cart) Lines() []CartLine {
	out := make([]CartLine, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.lines[k])
	}
	return out
}

func (c Cart) Line(k inventory.Key) (CartLine, bool) {
	l, ok := c.lines[k]
	if !ok {
		return CartLine{}, false
	}
	return *l, true
}

func (c Cart) Quantity(k inventory.Key) int {
	if l, ok := c.lines[k]; ok {
		return l.Quantity
	}
	return 0
}

func (c Cart) Len() int { return len(c.order) }

func (c Cart) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, k := range c.order {
		sum = sum.Add(c.lines[k].Total())
	}
	return sum
}

func (c Cart) Clone() Cart {
	out, _ := NewCart(c.Lines()...)
	return out
}

func (c Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Lines())
}

func (c *Cart) UnmarshalJSON(b []byte) error {
	var lines []CartLine
	if err := json.Unmarshal(b, &lines); err != nil {
		return err
	}
	nc, err := NewCart(lines...)
	if err != nil {
		return err
	}
	*c = nc
	return nil
}
