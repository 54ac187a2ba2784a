package inventory

// VariantSummary totals one variant. Negative counters contribute zero to totals.
type VariantSummary struct {
	VariantID string         `json:"variant_id"`
	Total     int            `json:"total"`
	Sizes     map[string]int `json:"sizes,omitempty"`
	SoldOut   bool           `json:"sold_out"`
}

type Summary struct {
	ProductID string           `json:"product_id"`
	SizeType  SizeType         `json:"size_type"`
	Total     int              `json:"total"`
	SoldOut   bool             `json:"sold_out"`
	Variants  []VariantSummary `json:"variants"`
}

func Summarize(p *Product) Summary {
	s := Summary{ProductID: p.ID, SizeType: p.SizeType, SoldOut: true}
	for _, v := range p.Variants {
		vs := VariantSummary{VariantID: v.ID, SoldOut: true}
		if p.SizeType.Sized() {
			vs.Sizes = make(map[string]int, len(v.Sizes))
			for _, sz := range v.Sizes {
				vs.Sizes[sz.Size] = sz.Availability
				vs.Total += positive(sz.Availability)
				if sz.Availability > 0 {
					vs.SoldOut = false
				}
			}
		} else {
			vs.Total = positive(v.Availability)
			vs.SoldOut = v.Availability <= 0
		}
		s.Total += vs.Total
		if !vs.SoldOut {
			s.SoldOut = false
		}
		s.Variants = append(s.Variants, vs)
	}
	return s
}

// IsSoldOut is true iff every relevant counter of every variant is <= 0.
// A product without variants or sizes has nothing to sell and counts as sold out.
func IsSoldOut(p *Product) bool {
	for _, k := range p.Keys() {
		if n, _ := p.Lookup(k); n > 0 {
			return false
		}
	}
	return true
}

func positive(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
