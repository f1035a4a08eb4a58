/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBERS:
  128-bit values (item ids, prices, totals, the rate) travel as base-10
  strings; JSON numbers lose precision past 2^53. Sale totals also carry
  *_display fields that render minor units as major units with two
  decimals ("360" -> "3.60").

VALIDATION:
  Request types carry validator/v10 tags, checked by decodeJSONBody.
  Range checks (fits in 128 bits, buyer fits in 252 bits) happen when
  the strings are converted to domain values.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Body decoding
*/
package api

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-ledger/sales"
	"lukechampine.com/uint128"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ItemDTO is a line item in requests and responses.
type ItemDTO struct {
	ID      string `json:"id" validate:"required,number"`
	PriceHT string `json:"price_ht" validate:"required,number"`
}

// RecordSaleRequest is the body of POST /api/sales.
type RecordSaleRequest struct {
	Buyer string    `json:"buyer" validate:"required,hexadecimal"`
	Items []ItemDTO `json:"items" validate:"dive"`
}

// SetTaxRateRequest is the body of PUT /api/tax-rate.
type SetTaxRateRequest struct {
	Rate string `json:"rate" validate:"required,number"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RecordSaleResponse reports the identifier assigned to a sale.
type RecordSaleResponse struct {
	SaleID   uint64 `json:"sale_id"`
	Replayed bool   `json:"replayed,omitempty"`
}

// SaleDTO represents a recorded sale.
type SaleDTO struct {
	ID        uint64    `json:"id"`
	Buyer     string    `json:"buyer"`
	Items     []ItemDTO `json:"items"`
	TotalHT   string    `json:"total_ht"`
	TVAAmount string    `json:"tva_amount"`
	TotalTTC  string    `json:"total_ttc"`

	TotalHTDisplay   string `json:"total_ht_display"`
	TVAAmountDisplay string `json:"tva_amount_display"`
	TotalTTCDisplay  string `json:"total_ttc_display"`
}

// ListSalesResponse is a page of consecutive sales.
type ListSalesResponse struct {
	Sales     []SaleDTO `json:"sales"`
	From      uint64    `json:"from"`
	SaleCount uint64    `json:"sale_count"`
}

// WindowDTO locates a sale's items in the arena.
type WindowDTO struct {
	SaleID uint64 `json:"sale_id"`
	Offset uint64 `json:"offset"`
	Count  uint64 `json:"count"`
	End    uint64 `json:"end"`
}

type TaxRateDTO struct {
	Rate string `json:"rate"`
}

type SaleCountDTO struct {
	SaleCount uint64 `json:"sale_count"`
}

type ArenaDTO struct {
	Length uint64 `json:"length"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSaleDTO(s sales.Sale) SaleDTO {
	items := make([]ItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = ItemDTO{ID: it.ID.String(), PriceHT: it.PriceHT.String()}
	}
	return SaleDTO{
		ID:               uint64(s.ID),
		Buyer:            s.Buyer.String(),
		Items:            items,
		TotalHT:          s.TotalHT.String(),
		TVAAmount:        s.TVAAmount.String(),
		TotalTTC:         s.TotalTTC.String(),
		TotalHTDisplay:   displayAmount(s.TotalHT),
		TVAAmountDisplay: displayAmount(s.TVAAmount),
		TotalTTCDisplay:  displayAmount(s.TotalTTC),
	}
}

func toWindowDTO(id sales.SaleID, w sales.ItemWindow) WindowDTO {
	return WindowDTO{SaleID: uint64(id), Offset: w.Offset, Count: w.Count, End: w.End()}
}

// displayAmount renders minor units as major units, e.g. 360 -> "3.60".
func displayAmount(v uint128.Uint128) string {
	return decimal.NewFromBigInt(v.Big(), -2).StringFixed(2)
}

func parseU128(field, s string) (uint128.Uint128, error) {
	v, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: %s must be an unsigned 128-bit integer", sales.ErrInvalidInput, field)
	}
	return v, nil
}

func (r RecordSaleRequest) toInput() (sales.Buyer, []sales.Item, error) {
	buyer, err := sales.ParseBuyer(r.Buyer)
	if err != nil {
		return sales.Buyer{}, nil, err
	}
	items := make([]sales.Item, len(r.Items))
	for i, it := range r.Items {
		if items[i].ID, err = parseU128(fmt.Sprintf("items[%d].id", i), it.ID); err != nil {
			return sales.Buyer{}, nil, err
		}
		if items[i].PriceHT, err = parseU128(fmt.Sprintf("items[%d].price_ht", i), it.PriceHT); err != nil {
			return sales.Buyer{}, nil, err
		}
	}
	return buyer, items, nil
}
