package sales

import (
	"lukechampine.com/uint128"
)

var hundred = uint128.From64(100)

// ComputeSummary derives the totals of a sale at the given rate.
//
//	total_ht  = sum(price_ht)
//	tva       = total_ht * rate / 100   (truncating)
//	total_ttc = total_ht + tva
//
// Every step is checked; the product total_ht*rate must fit in 128 bits
// before the division.
func ComputeSummary(id SaleID, buyer Buyer, items []Item, rate uint128.Uint128) (SaleSummary, error) {
	totalHT := uint128.Zero
	for _, it := range items {
		sum, ok := addChecked(totalHT, it.PriceHT)
		if !ok {
			return SaleSummary{}, &OverflowError{Op: "sum", SaleID: id}
		}
		totalHT = sum
	}

	product, ok := mulChecked(totalHT, rate)
	if !ok {
		return SaleSummary{}, &OverflowError{Op: "tax", SaleID: id}
	}
	tva := product.Div(hundred)

	totalTTC, ok := addChecked(totalHT, tva)
	if !ok {
		return SaleSummary{}, &OverflowError{Op: "total", SaleID: id}
	}

	return SaleSummary{
		Buyer:     buyer,
		TotalHT:   totalHT,
		TVAAmount: tva,
		TotalTTC:  totalTTC,
	}, nil
}

func addChecked(a, b uint128.Uint128) (uint128.Uint128, bool) {
	if a.Cmp(uint128.Max.Sub(b)) > 0 {
		return uint128.Zero, false
	}
	return a.Add(b), true
}

func mulChecked(a, b uint128.Uint128) (uint128.Uint128, bool) {
	if a.IsZero() || b.IsZero() {
		return uint128.Zero, true
	}
	if a.Cmp(uint128.Max.Div(b)) > 0 {
		return uint128.Zero, false
	}
	return a.Mul(b), true
}
