package orders

import (
	"sort"

	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
)

// Reconcile returns the ledger deltas that move stock from "original sold" to "edited
// sold". Lines are matched by product and variant. A line whose size is unchanged yields
// original-edited at its key; a size change restores the full original quantity at the
// old size and deducts the full new quantity at the new size; removed lines restore and
// added lines deduct. Deltas on the same key are summed and zeros dropped.
//
// Because a cart holds at most one line per key, this equals the per-key difference
// original(k) - edited(k), which is what gets computed.
func Reconcile(original, edited Cart) []inventory.Delta {
	var out []inventory.Delta
	for _, l := range original.Lines() {
		out = append(out, inventory.Delta{Key: l.Key(), Quantity: l.Quantity})
	}
	for _, l := range edited.Lines() {
		out = append(out, inventory.Delta{Key: l.Key(), Quantity: -l.Quantity})
	}
	return inventory.Merge(out)
}

// Restock is the delta set that returns every line of c to the ledger.
func Restock(c Cart) []inventory.Delta { return Reconcile(c, Cart{}) }

// Deduct is the delta set that takes every line of c out of the ledger.
func Deduct(c Cart) []inventory.Delta { return Reconcile(Cart{}, c) }

const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeQuantity = "quantity"
	ChangeSize     = "size"
)

type variantKey struct{ productID, variantID string }

// Compare reports how each line of original matched a line of edited, keyed on product
// and variant. Lines present on both sides at the same size pair up first; the rest of
// a variant's lines pair in cart order as size changes. Unchanged lines are omitted.
func Compare(original, edited Cart) []events.LineChange {
	group := func(c Cart) (map[variantKey][]CartLine, []variantKey) {
		m := map[variantKey][]CartLine{}
		var order []variantKey
		for _, l := range c.Lines() {
			vk := variantKey{l.ProductID, l.VariantID}
			if _, seen := m[vk]; !seen {
				order = append(order, vk)
			}
			m[vk] = append(m[vk], l)
		}
		return m, order
	}
	origBy, origOrder := group(original)
	editBy, editOrder := group(edited)

	var out []events.LineChange
	for _, vk := range origOrder {
		olds := origBy[vk]
		news := editBy[vk]

		var restOld []CartLine
		matched := map[string]bool{}
		for _, o := range olds {
			n, ok := edited.Line(o.Key())
			if !ok {
				restOld = append(restOld, o)
				continue
			}
			matched[n.Size] = true
			if n.Quantity != o.Quantity {
				out = append(out, change(ChangeQuantity, o, n))
			}
		}
		var restNew []CartLine
		for _, n := range news {
			if !matched[n.Size] {
				restNew = append(restNew, n)
			}
		}
		for i, o := range restOld {
			if i < len(restNew) {
				out = append(out, change(ChangeSize, o, restNew[i]))
				continue
			}
			out = append(out, events.LineChange{
				Kind: ChangeRemoved, ProductID: o.ProductID, VariantID: o.VariantID,
				FromSize: o.Size, FromQty: o.Quantity,
			})
		}
		for i := len(restOld); i < len(restNew); i++ {
			n := restNew[i]
			out = append(out, events.LineChange{
				Kind: ChangeAdded, ProductID: n.ProductID, VariantID: n.VariantID,
				ToSize: n.Size, ToQty: n.Quantity,
			})
		}
	}
	for _, vk := range editOrder {
		if _, ok := origBy[vk]; ok {
			continue
		}
		for _, n := range editBy[vk] {
			out = append(out, events.LineChange{
				Kind: ChangeAdded, ProductID: n.ProductID, VariantID: n.VariantID,
				ToSize: n.Size, ToQty: n.Quantity,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].VariantID < out[j].VariantID
	})
	return out
}

func change(kind string, o, n CartLine) events.LineChange {
	return events.LineChange{
		Kind: kind, ProductID: o.ProductID, VariantID: o.VariantID,
		FromSize: o.Size, ToSize: n.Size, FromQty: o.Quantity, ToQty: n.Quantity,
	}
}

func toItemDeltas(ds []inventory.Delta) []events.ItemDelta {
	out := make([]events.ItemDelta, 0, len(ds))
	for _, d := range ds {
		out = append(out, events.ItemDelta{
			ProductID: d.ProductID, VariantID: d.VariantID, Size: d.Size, Quantity: d.Quantity,
		})
	}
	return out
}

func toEventLines(c Cart) []events.Line {
	out := make([]events.Line, 0, c.Len())
	for _, l := range c.Lines() {
		out = append(out, events.Line{
			ProductID: l.ProductID, VariantID: l.VariantID, Size: l.Size,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice.String(),
		})
	}
	return out
}
