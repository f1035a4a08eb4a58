/*
store.go - Persistence interface for the sale ledger

PURPOSE:
  Defines the boundary between the ledger and its storage substrate.
  The substrate only offers fixed-size records: key-value maps keyed by
  sale identifier and one growable array of items. There is no per-sale
  variable-length collection anywhere.

KEY INTERFACES:
  Store:   Region accessors (state, summaries, windows, arena, idempotency)
  TxStore: Store + atomic multi-region writes

PERSISTED LAYOUT:
  state              {sale_count, tax_rate}
  summaries          SaleID -> SaleSummary
  windows            SaleID -> ItemWindow
  arena              [Item, Item, ...] append-only
  idempotency keys   key -> SaleID

APPEND-ONLY CONTRACT:
  - Summaries, windows and idempotency keys are written once per sale
  - The arena only grows (AppendItems)
  - NO Delete methods exist; only the state scalars are overwritten

IMPLEMENTATIONS:
  - sales/store/memory.go: In-memory, snapshot + rollback
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/redis/redis.go: Redis, MULTI/EXEC commit

SEE ALSO:
  - ledger.go: The only writer
*/
package sales

import "context"

// =============================================================================
// STORE - Substrate regions
// =============================================================================

// Store gives access to the ledger's storage regions.
// Errors returned by implementations are wrapped in StorageError.
type Store interface {
	// State returns the persisted scalars; ok is false before initialization.
	State(ctx context.Context) (state State, ok bool, err error)

	// PutState overwrites the scalars.
	PutState(ctx context.Context, state State) error

	// Summary returns the summary stored at id.
	Summary(ctx context.Context, id SaleID) (summary SaleSummary, ok bool, err error)

	// PutSummary stores the summary at id.
	PutSummary(ctx context.Context, id SaleID, summary SaleSummary) error

	// Window returns the item window stored at id.
	Window(ctx context.Context, id SaleID) (window ItemWindow, ok bool, err error)

	// PutWindow stores the item window at id.
	PutWindow(ctx context.Context, id SaleID, window ItemWindow) error

	// ArenaLen returns the number of items in the arena.
	ArenaLen(ctx context.Context) (uint64, error)

	// AppendItems appends items to the arena in the given order.
	AppendItems(ctx context.Context, items []Item) error

	// ReadItems returns a copy of the arena slice covered by window.
	// Fails if the window reaches past the arena end.
	ReadItems(ctx context.Context, window ItemWindow) ([]Item, error)

	// IdempotentSale returns the sale recorded under key.
	IdempotentSale(ctx context.Context, key string) (id SaleID, ok bool, err error)

	// PutIdempotentSale binds key to id.
	PutIdempotentSale(ctx context.Context, key string, id SaleID) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across regions
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// discarded. If fn returns nil, all writes become visible together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
