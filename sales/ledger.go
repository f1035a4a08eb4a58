/*
ledger.go - The sale ledger

PURPOSE:
  Owns all ledger state and exposes the operations:
    SetTaxRate / TaxRate      global rate configuration
    RecordSale / Record       append a sale (summary + window + items)
    GetSale                   rebuild a sale from summary + arena window
    SaleCount                 number of sales recorded (= next identifier)
  plus read accessors Window, ArenaLen and ListSales.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: sales are never deleted or modified
  2. CONTIGUOUS ARENA: window(i+1).Offset == window(i).Offset + window(i).Count
  3. FROZEN TOTALS: changing the rate never touches past summaries
  4. ATOMIC: a sale's summary, window, items and the counter bump become
     visible together or not at all

CONCURRENCY:
  One RWMutex guards the whole ledger. SetTaxRate and Record hold the
  write lock (single writer); reads share the read lock and therefore
  never observe a half-recorded sale. Every mutation also runs inside
  TxStore.WithTx so a failing substrate write leaves nothing behind.

RECORD FLOW:
  1. total_ht = sum(price_ht)            (checked)
  2. rate = current rate
  3. tva = total_ht * rate / 100         (checked product, truncating)
  4. total_ttc = total_ht + tva          (checked)
  5. id = sale_count
  6. summaries[id] = {buyer, totals}
  7. offset = arena length before append
  8. count = len(items)
  9. windows[id] = {offset, count}
  10. arena += items, input order
  11. sale_count++

SEE ALSO:
  - tax.go: Steps 1-4
  - store.go: Substrate regions
  - authorizer.go: Rate change policy
*/
package sales

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/warp/sale-ledger/logger"
	"github.com/warp/sale-ledger/metrics"
	"lukechampine.com/uint128"
)

const (
	// DefaultMaxItemsPerSale bounds a single sale's item list.
	DefaultMaxItemsPerSale = 10000

	defaultListLimit = 50
	maxListLimit     = 500
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger records sales over a transactional substrate.
type Ledger struct {
	mu sync.RWMutex

	store       TxStore
	authorizer  RateAuthorizer
	log         *logger.Logger
	metrics     *metrics.LedgerMetrics
	maxItems    int
	initialRate uint128.Uint128
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAuthorizer sets the rate change policy. Defaults to AllowAll.
func WithAuthorizer(a RateAuthorizer) Option {
	return func(l *Ledger) { l.authorizer = a }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithMaxItems bounds the number of items in one sale.
func WithMaxItems(n int) Option {
	return func(l *Ledger) { l.maxItems = n }
}

// WithInitialTaxRate sets the rate used when the substrate is empty.
// It has no effect on an already initialized substrate.
func WithInitialTaxRate(rate uint128.Uint128) Option {
	return func(l *Ledger) { l.initialRate = rate }
}

// NewLedger opens the ledger on store, initializing the state scalars
// (sale_count = 0, tax_rate = initial rate) if the substrate is empty.
func NewLedger(ctx context.Context, store TxStore, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:       store,
		authorizer:  AllowAll{},
		log:         logger.Nop(),
		maxItems:    DefaultMaxItemsPerSale,
		initialRate: uint128.From64(DefaultTaxRate),
	}
	for _, opt := range opts {
		opt(l)
	}

	var state State
	err := store.WithTx(ctx, func(s Store) error {
		current, ok, err := s.State(ctx)
		if err != nil {
			return err
		}
		if ok {
			state = current
			return nil
		}
		state = InitialState(l.initialRate)
		return s.PutState(ctx, state)
	})
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}

	arenaLen, err := store.ArenaLen(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	l.metrics.SetTaxRate(rateFloat(state.TaxRate))
	l.metrics.SetArenaLength(arenaLen)
	return l, nil
}

// =============================================================================
// TAX RATE
// =============================================================================

// SetTaxRate overwrites the global rate. No bounds are enforced; only the
// authorizer can refuse the change. Past sales are unaffected.
func (l *Ledger) SetTaxRate(ctx context.Context, actor string, rate uint128.Uint128) error {
	ctx = l.log.WithActor(ctx, actor)
	if err := l.authorizer.AuthorizeRateChange(ctx, actor, rate); err != nil {
		l.log.Warn(ctx, "tax rate change refused")
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var previous uint128.Uint128
	err := l.store.WithTx(ctx, func(s Store) error {
		state, err := loadState(ctx, s)
		if err != nil {
			return err
		}
		previous = state.TaxRate
		state.TaxRate = rate
		return s.PutState(ctx, state)
	})
	if err != nil {
		l.log.Error(ctx, "tax rate change failed", err)
		return err
	}

	l.metrics.SetTaxRate(rateFloat(rate))
	ctx = l.log.With(ctx, map[string]any{
		"previous_rate": previous.String(),
		"rate":          rate.String(),
	})
	l.log.Info(ctx, "tax rate changed")
	return nil
}

// TaxRate returns the rate applied to the next sale.
func (l *Ledger) TaxRate(ctx context.Context) (uint128.Uint128, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, err := loadState(ctx, l.store)
	if err != nil {
		return uint128.Zero, err
	}
	return state.TaxRate, nil
}

// =============================================================================
// RECORDING
// =============================================================================

// SaleInput is a sale to record.
type SaleInput struct {
	Buyer Buyer
	Items []Item

	// IdempotencyKey, when set, makes retries return the first recording.
	IdempotencyKey string
}

// RecordResult reports the identifier assigned to a recorded sale.
type RecordResult struct {
	ID SaleID

	// Replayed is true when the idempotency key matched an earlier sale
	// and nothing was written.
	Replayed bool
}

// RecordSale records a sale and returns its identifier.
func (l *Ledger) RecordSale(ctx context.Context, buyer Buyer, items []Item) (SaleID, error) {
	res, err := l.Record(ctx, SaleInput{Buyer: buyer, Items: items})
	return res.ID, err
}

// Record records a sale. On error nothing has been written.
//
// A known idempotency key is resolved before any other check: the call
// replays the earlier sale if buyer and items match it exactly, and fails
// with ErrIdempotencyConflict otherwise.
func (l *Ledger) Record(ctx context.Context, in SaleInput) (RecordResult, error) {
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		res     RecordResult
		summary SaleSummary
		window  ItemWindow
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		if in.IdempotencyKey != "" {
			existing, ok, err := s.IdempotentSale(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if err := matchRecorded(ctx, s, existing, in); err != nil {
					return err
				}
				res = RecordResult{ID: existing, Replayed: true}
				return nil
			}
		}

		if len(in.Items) > l.maxItems {
			return fmt.Errorf("%w: %d items exceeds the limit of %d",
				ErrInvalidInput, len(in.Items), l.maxItems)
		}

		state, err := loadState(ctx, s)
		if err != nil {
			return err
		}
		if state.SaleCount == math.MaxUint64 {
			return &OverflowError{Op: "sale count", SaleID: SaleID(state.SaleCount)}
		}
		id := SaleID(state.SaleCount)

		summary, err = ComputeSummary(id, in.Buyer, in.Items, state.TaxRate)
		if err != nil {
			return err
		}
		if err := s.PutSummary(ctx, id, summary); err != nil {
			return err
		}

		offset, err := s.ArenaLen(ctx)
		if err != nil {
			return err
		}
		window = ItemWindow{Offset: offset, Count: uint64(len(in.Items))}
		if err := s.PutWindow(ctx, id, window); err != nil {
			return err
		}
		if err := s.AppendItems(ctx, in.Items); err != nil {
			return err
		}

		if in.IdempotencyKey != "" {
			if err := s.PutIdempotentSale(ctx, in.IdempotencyKey, id); err != nil {
				return err
			}
		}

		state.SaleCount++
		if err := s.PutState(ctx, state); err != nil {
			return err
		}
		res = RecordResult{ID: id}
		return nil
	})
	if err != nil {
		l.metrics.IncFailure(failureReason(err))
		l.log.Error(ctx, "record sale failed", err)
		return RecordResult{}, err
	}

	ctx = l.log.WithSale(ctx, uint64(res.ID))
	if res.Replayed {
		l.log.Info(ctx, "sale replayed from idempotency key")
		return res, nil
	}

	l.metrics.ObserveSale(len(in.Items), time.Since(start))
	l.metrics.SetArenaLength(window.End())
	ctx = l.log.With(ctx, map[string]any{
		"buyer":        summary.Buyer.String(),
		"items":        window.Count,
		"arena_offset": window.Offset,
		"total_ttc":    summary.TotalTTC.String(),
	})
	l.log.Info(ctx, "sale recorded")
	return res, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetSale rebuilds sale id from its summary and arena window.
// Identifiers at or beyond the sale count fail with ErrSaleNotFound.
func (l *Ledger) GetSale(ctx context.Context, id SaleID) (Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, err := loadState(ctx, l.store)
	if err != nil {
		return Sale{}, err
	}
	if uint64(id) >= state.SaleCount {
		return Sale{}, fmt.Errorf("%w: %d", ErrSaleNotFound, id)
	}
	return l.readSale(ctx, id)
}

// SaleCount returns the number of sales recorded so far.
func (l *Ledger) SaleCount(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, err := loadState(ctx, l.store)
	if err != nil {
		return 0, err
	}
	return state.SaleCount, nil
}

// Window returns the arena window of sale id.
func (l *Ledger) Window(ctx context.Context, id SaleID) (ItemWindow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, err := loadState(ctx, l.store)
	if err != nil {
		return ItemWindow{}, err
	}
	if uint64(id) >= state.SaleCount {
		return ItemWindow{}, fmt.Errorf("%w: %d", ErrSaleNotFound, id)
	}
	w, ok, err := l.store.Window(ctx, id)
	if err != nil {
		return ItemWindow{}, err
	}
	if !ok {
		return ItemWindow{}, NewStorageError("window", fmt.Errorf("missing window for sale %d", id))
	}
	return w, nil
}

// ArenaLen returns the number of items recorded across all sales.
func (l *Ledger) ArenaLen(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.ArenaLen(ctx)
}

// ListSales returns up to limit consecutive sales starting at from.
// A non-positive limit selects the default page size.
func (l *Ledger) ListSales(ctx context.Context, from SaleID, limit int) ([]Sale, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	state, err := loadState(ctx, l.store)
	if err != nil {
		return nil, err
	}

	result := []Sale{}
	for id := uint64(from); id < state.SaleCount && len(result) < limit; id++ {
		sale, err := l.readSale(ctx, SaleID(id))
		if err != nil {
			return nil, err
		}
		result = append(result, sale)
	}
	return result, nil
}

// readSale assumes id < sale count and the read lock is held.
func (l *Ledger) readSale(ctx context.Context, id SaleID) (Sale, error) {
	summary, ok, err := l.store.Summary(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if !ok {
		return Sale{}, NewStorageError("summary", fmt.Errorf("missing summary for sale %d", id))
	}

	window, ok, err := l.store.Window(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if !ok {
		return Sale{}, NewStorageError("window", fmt.Errorf("missing window for sale %d", id))
	}

	items, err := l.store.ReadItems(ctx, window)
	if err != nil {
		return Sale{}, err
	}
	return Sale{ID: id, SaleSummary: summary, Items: items}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func loadState(ctx context.Context, s Store) (State, error) {
	state, ok, err := s.State(ctx)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, NewStorageError("state", fmt.Errorf("ledger state not initialized"))
	}
	return state, nil
}

// matchRecorded checks that in describes the same sale as id.
func matchRecorded(ctx context.Context, s Store, id SaleID, in SaleInput) error {
	summary, ok, err := s.Summary(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewStorageError("summary", fmt.Errorf("missing summary for sale %d", id))
	}
	window, ok, err := s.Window(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewStorageError("window", fmt.Errorf("missing window for sale %d", id))
	}

	conflict := fmt.Errorf("%w: key %q recorded sale %d", ErrIdempotencyConflict, in.IdempotencyKey, id)
	if summary.Buyer != in.Buyer || window.Count != uint64(len(in.Items)) {
		return conflict
	}
	items, err := s.ReadItems(ctx, window)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i] != in.Items[i] {
			return conflict
		}
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStorageFailure):
		return "storage"
	default:
		return "unknown"
	}
}

func rateFloat(rate uint128.Uint128) float64 {
	return float64(rate.Hi)*math.Exp2(64) + float64(rate.Lo)
}
