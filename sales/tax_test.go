package sales

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestComputeSummary(t *testing.T) {
	tests := []struct {
		name   string
		prices []uint64
		rate   uint64
		ht     uint64
		tva    uint64
		ttc    uint64
	}{
		{"two items at 20", []uint64{100, 200}, 20, 300, 60, 360},
		{"no items", nil, 20, 0, 0, 0},
		{"truncating division", []uint64{99}, 20, 99, 19, 118},
		{"zero rate", []uint64{5, 5}, 0, 10, 0, 10},
		{"rate above 100", []uint64{10}, 250, 10, 25, 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]Item, len(tt.prices))
			for i, p := range tt.prices {
				items[i] = Item{ID: uint128.From64(uint64(i)), PriceHT: uint128.From64(p)}
			}

			s, err := ComputeSummary(3, Buyer{}, items, uint128.From64(tt.rate))
			require.NoError(t, err)
			assert.Equal(t, uint128.From64(tt.ht), s.TotalHT)
			assert.Equal(t, uint128.From64(tt.tva), s.TVAAmount)
			assert.Equal(t, uint128.From64(tt.ttc), s.TotalTTC)
		})
	}
}

func TestComputeSummary_LargestFittingTotal(t *testing.T) {
	// total_ht * 100 / 100 stays exact near the top of the range
	price := uint128.Max.Div64(200)
	s, err := ComputeSummary(0, Buyer{}, []Item{{PriceHT: price}}, uint128.From64(100))
	require.NoError(t, err)
	assert.Equal(t, price, s.TVAAmount)
	assert.Equal(t, price.Add(price), s.TotalTTC)
}

func TestMulChecked(t *testing.T) {
	_, ok := mulChecked(uint128.Max, uint128.Zero)
	assert.True(t, ok)
	_, ok = mulChecked(uint128.Max, uint128.From64(2))
	assert.False(t, ok)
	p, ok := mulChecked(uint128.Max.Div64(3), uint128.From64(3))
	assert.True(t, ok)
	assert.Equal(t, uint128.Max.Div64(3).Mul64(3), p)
}

func TestAddChecked(t *testing.T) {
	s, ok := addChecked(uint128.Max.Sub64(1), uint128.From64(1))
	assert.True(t, ok)
	assert.Equal(t, uint128.Max, s)
	_, ok = addChecked(uint128.Max, uint128.From64(1))
	assert.False(t, ok)
}
