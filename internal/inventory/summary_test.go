package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func shirt(m, l int) *Product {
	return &Product{
		ID: "P1", Name: "Shirt", SizeType: SizeIndividual,
		Variants: []Variant{
			{ID: "V1", Sizes: []SizeStock{{Size: "M", Availability: m}, {Size: "L", Availability: l}}},
			{ID: "V2", Sizes: []SizeStock{{Size: "M", Availability: 0}}},
		},
	}
}

func TestIsSoldOut(t *testing.T) {
	tests := []struct {
		name string
		p    *Product
		want bool
	}{
		{"one size in stock", shirt(0, 1), false},
		{"all sizes empty", shirt(0, 0), true},
		{"negative counts as empty", shirt(-2, 0), true},
		{"free size in stock", &Product{ID: "P2", SizeType: SizeFree, Variants: []Variant{{ID: "V1", Availability: 3}}}, false},
		{"none size empty", &Product{ID: "P3", SizeType: SizeNone, Variants: []Variant{{ID: "V1"}, {ID: "V2", Availability: -1}}}, true},
		{"no variants", &Product{ID: "P4", SizeType: SizeNone}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSoldOut(tt.p))
			assert.Equal(t, tt.want, Summarize(tt.p).SoldOut)
		})
	}
}

func TestSummarizeClampsNegatives(t *testing.T) {
	s := Summarize(shirt(-3, 4))

	assert.Equal(t, 4, s.Total)
	assert.False(t, s.SoldOut)
	if assert.Len(t, s.Variants, 2) {
		assert.Equal(t, map[string]int{"M": -3, "L": 4}, s.Variants[0].Sizes)
		assert.Equal(t, 4, s.Variants[0].Total)
		assert.True(t, s.Variants[1].SoldOut)
	}
}

func TestMerge(t *testing.T) {
	k1 := Key{ProductID: "P1", VariantID: "V1", Size: "M"}
	k2 := Key{ProductID: "P1", VariantID: "V1", Size: "L"}
	got := Merge([]Delta{
		{Key: k1, Quantity: 2},
		{Key: k2, Quantity: -1},
		{Key: k1, Quantity: -2},
		{Key: k2, Quantity: -1},
	})
	assert.Equal(t, []Delta{{Key: k2, Quantity: -2}}, got)
}

func TestProductNormalize(t *testing.T) {
	sized := shirt(1, 1)
	_, err := sized.Normalize(Key{ProductID: "P1", VariantID: "V1"})
	assert.ErrorIs(t, err, ErrInvalidKey)

	free := &Product{ID: "P2", SizeType: SizeFree, Variants: []Variant{{ID: "V1"}}}
	_, err = free.Normalize(Key{ProductID: "P2", VariantID: "V1", Size: "M"})
	assert.ErrorIs(t, err, ErrInvalidKey)

	k, err := free.Normalize(Key{ProductID: "P2", VariantID: "V1"})
	assert.NoError(t, err)
	assert.Equal(t, "P2/V1", k.String())
}
