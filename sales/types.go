/*
Package sales provides the point-of-sale ledger engine.

PURPOSE:
  Records sales (buyer, ordered line items, derived totals) in an
  append-only ledger whose persisted records are all fixed-size.
  A sale's variable-length item list never gets stored as a unit: every
  item of every sale is appended to one flat ITEM ARENA and the sale keeps
  only an (offset, count) WINDOW into it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item:        A line item (identifier + pre-tax price)
  - SaleSummary: The fixed-size persisted part of a sale (buyer + totals)
  - ItemWindow:  Half-open range [Offset, Offset+Count) into the arena
  - Sale:        Summary + materialized items, built at query time only
  - State:       The two persisted scalars (sale count, tax rate)

STORAGE REGIONS:
  Sale Index:         SaleID -> SaleSummary
  Item Window Index:  SaleID -> ItemWindow
  Item Arena:         append-only sequence of Item, shared by all sales

  The arena is written only by RecordSale and read only through a window.

USAGE:
  ledger, err := sales.NewLedger(ctx, store.NewTxMemory())
  id, err := ledger.RecordSale(ctx, buyer, []sales.Item{
      {ID: uint128.From64(1), PriceHT: uint128.From64(100)},
  })
  sale, err := ledger.GetSale(ctx, id)

SEE ALSO:
  - ledger.go: Operations and their atomicity
  - tax.go: Totals computation
  - store.go: Substrate interface
*/
package sales

import (
	"lukechampine.com/uint128"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// SaleID identifies a sale. Identifiers are 0-based and assigned in
// recording order; the next identifier is always the current sale count.
type SaleID uint64

// DefaultTaxRate is the rate (percent) a fresh ledger starts with.
const DefaultTaxRate = 20

// =============================================================================
// ITEM - A line item, immutable once recorded
// =============================================================================

// Item is one line of a sale.
type Item struct {
	ID      uint128.Uint128
	PriceHT uint128.Uint128
}

// =============================================================================
// SALE SUMMARY - Fixed-size persisted record
// =============================================================================

// SaleSummary holds the buyer and the totals frozen at record time.
//
// INVARIANTS:
//   - TotalTTC == TotalHT + TVAAmount
//   - TVAAmount == TotalHT * rate / 100 (truncating), rate as of recording
type SaleSummary struct {
	Buyer     Buyer
	TotalHT   uint128.Uint128
	TVAAmount uint128.Uint128
	TotalTTC  uint128.Uint128
}

// =============================================================================
// ITEM WINDOW - A sale's slice of the arena
// =============================================================================

// ItemWindow locates a sale's items in the arena as [Offset, Offset+Count).
type ItemWindow struct {
	Offset uint64
	Count  uint64
}

// End returns the exclusive end of the window.
func (w ItemWindow) End() uint64 { return w.Offset + w.Count }

// Empty reports whether the window holds no items.
func (w ItemWindow) Empty() bool { return w.Count == 0 }

// =============================================================================
// SALE - Query-time view, never persisted as a unit
// =============================================================================

// Sale is a summary plus a copy of its items, in recorded order.
type Sale struct {
	ID SaleID
	SaleSummary
	Items []Item
}

// =============================================================================
// STATE - Persisted scalars
// =============================================================================

// State holds the ledger scalars.
// SaleCount doubles as the next sale identifier.
type State struct {
	SaleCount uint64
	TaxRate   uint128.Uint128
}

// InitialState is the state of a freshly constructed ledger.
func InitialState(rate uint128.Uint128) State {
	return State{SaleCount: 0, TaxRate: rate}
}
