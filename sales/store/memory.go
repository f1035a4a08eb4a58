// Package store provides in-process sales.Store implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/sale-ledger/sales"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	state       *sales.State
	summaries   map[sales.SaleID]sales.SaleSummary
	windows     map[sales.SaleID]sales.ItemWindow
	arena       []sales.Item
	idempotency map[string]sales.SaleID
}

func NewMemory() *Memory {
	return &Memory{
		summaries:   make(map[sales.SaleID]sales.SaleSummary),
		windows:     make(map[sales.SaleID]sales.ItemWindow),
		idempotency: make(map[string]sales.SaleID),
	}
}

func (m *Memory) State(_ context.Context) (sales.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Memory) PutState(_ context.Context, state sales.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putStateLocked(state)
	return nil
}

func (m *Memory) Summary(_ context.Context, id sales.SaleID) (sales.SaleSummary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[id]
	return s, ok, nil
}

func (m *Memory) PutSummary(_ context.Context, id sales.SaleID, summary sales.SaleSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[id] = summary
	return nil
}

func (m *Memory) Window(_ context.Context, id sales.SaleID) (sales.ItemWindow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	return w, ok, nil
}

func (m *Memory) PutWindow(_ context.Context, id sales.SaleID, window sales.ItemWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[id] = window
	return nil
}

func (m *Memory) ArenaLen(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.arena)), nil
}

// AppendItems appends to the arena. Append-only.
func (m *Memory) AppendItems(_ context.Context, items []sales.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arena = append(m.arena, items...)
	return nil
}

func (m *Memory) ReadItems(_ context.Context, window sales.ItemWindow) ([]sales.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readItemsLocked(window)
}

func (m *Memory) IdempotentSale(_ context.Context, key string) (sales.SaleID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idempotency[key]
	return id, ok, nil
}

func (m *Memory) PutIdempotentSale(_ context.Context, key string, id sales.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[key] = id
	return nil
}

func (m *Memory) stateLocked() (sales.State, bool, error) {
	if m.state == nil {
		return sales.State{}, false, nil
	}
	return *m.state, true, nil
}

func (m *Memory) putStateLocked(state sales.State) {
	s := state
	m.state = &s
}

func (m *Memory) readItemsLocked(window sales.ItemWindow) ([]sales.Item, error) {
	if window.End() > uint64(len(m.arena)) || window.End() < window.Offset {
		return nil, sales.NewStorageError("read items",
			fmt.Errorf("window [%d,%d) past arena length %d", window.Offset, window.End(), len(m.arena)))
	}
	result := make([]sales.Item, window.Count)
	copy(result, m.arena[window.Offset:window.End()])
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(sales.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

// The arena is append-only, so its snapshot is just its length.
func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		summaries:   make(map[sales.SaleID]sales.SaleSummary, len(tm.summaries)),
		windows:     make(map[sales.SaleID]sales.ItemWindow, len(tm.windows)),
		idempotency: make(map[string]sales.SaleID, len(tm.idempotency)),
		arenaLen:    len(tm.arena),
	}
	if tm.state != nil {
		st := *tm.state
		s.state = &st
	}
	for k, v := range tm.summaries {
		s.summaries[k] = v
	}
	for k, v := range tm.windows {
		s.windows[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.state = s.state
	tm.summaries = s.summaries
	tm.windows = s.windows
	tm.idempotency = s.idempotency
	tm.arena = tm.arena[:s.arenaLen]
}

type memorySnapshot struct {
	state       *sales.State
	summaries   map[sales.SaleID]sales.SaleSummary
	windows     map[sales.SaleID]sales.ItemWindow
	idempotency map[string]sales.SaleID
	arenaLen    int
}

// txMemoryView operates on the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) State(_ context.Context) (sales.State, bool, error) {
	return tv.parent.stateLocked()
}

func (tv *txMemoryView) PutState(_ context.Context, state sales.State) error {
	tv.parent.putStateLocked(state)
	return nil
}

func (tv *txMemoryView) Summary(_ context.Context, id sales.SaleID) (sales.SaleSummary, bool, error) {
	s, ok := tv.parent.summaries[id]
	return s, ok, nil
}

func (tv *txMemoryView) PutSummary(_ context.Context, id sales.SaleID, summary sales.SaleSummary) error {
	tv.parent.summaries[id] = summary
	return nil
}

func (tv *txMemoryView) Window(_ context.Context, id sales.SaleID) (sales.ItemWindow, bool, error) {
	w, ok := tv.parent.windows[id]
	return w, ok, nil
}

func (tv *txMemoryView) PutWindow(_ context.Context, id sales.SaleID, window sales.ItemWindow) error {
	tv.parent.windows[id] = window
	return nil
}

func (tv *txMemoryView) ArenaLen(_ context.Context) (uint64, error) {
	return uint64(len(tv.parent.arena)), nil
}

func (tv *txMemoryView) AppendItems(_ context.Context, items []sales.Item) error {
	tv.parent.arena = append(tv.parent.arena, items...)
	return nil
}

func (tv *txMemoryView) ReadItems(_ context.Context, window sales.ItemWindow) ([]sales.Item, error) {
	return tv.parent.readItemsLocked(window)
}

func (tv *txMemoryView) IdempotentSale(_ context.Context, key string) (sales.SaleID, bool, error) {
	id, ok := tv.parent.idempotency[key]
	return id, ok, nil
}

func (tv *txMemoryView) PutIdempotentSale(_ context.Context, key string, id sales.SaleID) error {
	tv.parent.idempotency[key] = id
	return nil
}
