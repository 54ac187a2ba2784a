package inventory

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrProductNotFound   = errors.New("inventory: product not found")
	ErrKeyNotFound       = errors.New("inventory: stock key not found")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrInvalidKey        = errors.New("inventory: invalid stock key")
)

// SizeType selects the stock sub-schema used by a product's variants.
type SizeType string

const (
	SizeIndividual SizeType = "individual"
	SizeFree       SizeType = "free"
	SizeNone       SizeType = "none"
)

func (t SizeType) Valid() bool {
	switch t {
	case SizeIndividual, SizeFree, SizeNone:
		return true
	}
	return false
}

// Sized reports whether stock is tracked per size label.
func (t SizeType) Sized() bool { return t == SizeIndividual }

type Product struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	SizeType SizeType  `json:"size_type"`
	Variants []Variant `json:"variants"`
}

type SizeStock struct {
	Size         string `json:"size"`
	Availability int    `json:"availability"`
}

// Variant holds Sizes for individual products and Availability otherwise.
type Variant struct {
	ID           string      `json:"id"`
	Sizes        []SizeStock `json:"sizes,omitempty"`
	Availability int         `json:"availability"`
}

// Key addresses one ledger counter. Size is empty unless the product is individually sized.
type Key struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Size      string `json:"size,omitempty"`
}

func (k Key) String() string {
	if k.Size == "" {
		return k.ProductID + "/" + k.VariantID
	}
	return k.ProductID + "/" + k.VariantID + "/" + k.Size
}

func (k Key) Validate() error {
	if k.ProductID == "" || k.VariantID == "" {
		return fmt.Errorf("%w: product and variant are required (%s)", ErrInvalidKey, k)
	}
	return nil
}

func (k Key) Less(o Key) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	if k.VariantID != o.VariantID {
		return k.VariantID < o.VariantID
	}
	return k.Size < o.Size
}

// Delta is a signed adjustment: negative deducts (a sale), positive restores.
type Delta struct {
	Key
	Quantity int `json:"quantity"`
}

// Merge sums deltas sharing a key, drops zero results and sorts by key.
func Merge(deltas []Delta) []Delta {
	sums := make(map[Key]int, len(deltas))
	for _, d := range deltas {
		sums[d.Key] += d.Quantity
	}
	out := make([]Delta, 0, len(sums))
	for k, q := range sums {
		if q != 0 {
			out = append(out, Delta{Key: k, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Keys lists every ledger key of the product.
func (p *Product) Keys() []Key {
	var out []Key
	for _, v := range p.Variants {
		if p.SizeType.Sized() {
			for _, s := range v.Sizes {
				out = append(out, Key{ProductID: p.ID, VariantID: v.ID, Size: s.Size})
			}
			continue
		}
		out = append(out, Key{ProductID: p.ID, VariantID: v.ID})
	}
	return out
}

// Lookup returns the availability stored for k on this product.
func (p *Product) Lookup(k Key) (int, bool) {
	if k.ProductID != p.ID {
		return 0, false
	}
	for _, v := range p.Variants {
		if v.ID != k.VariantID {
			continue
		}
		if !p.SizeType.Sized() {
			return v.Availability, k.Size == ""
		}
		for _, s := range v.Sizes {
			if s.Size == k.Size {
				return s.Availability, true
			}
		}
		return 0, false
	}
	return 0, false
}

// Normalize fixes the size component of k for this product: individually sized products
// require a size, all others ignore it.
func (p *Product) Normalize(k Key) (Key, error) {
	if p.SizeType.Sized() {
		if k.Size == "" {
			return k, fmt.Errorf("%w: size is required for %s", ErrInvalidKey, k)
		}
		return k, nil
	}
	if k.Size != "" {
		return k, fmt.Errorf("%w: product %s has no sizes", ErrInvalidKey, p.ID)
	}
	return k, nil
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		c.Variants[i] = v
		c.Variants[i].Sizes = append([]SizeStock(nil), v.Sizes...)
	}
	return &c
}
