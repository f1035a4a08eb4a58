/*
Package sqlite provides a SQLite-backed implementation of sales.TxStore.

PURPOSE:
  Persists the ledger regions in SQLite. Every row is fixed-size: the
  variable-length item list of a sale lives in the shared item_arena
  table, addressed by position, never in a per-sale column or table.

KEY TABLES:
  ledger_state:     single row {sale_count, tax_rate}
  sale_summaries:   sale_id -> buyer + totals
  item_windows:     sale_id -> (offset, count)
  item_arena:       position -> item (append-only, position = 0,1,2,...)
  idempotency_keys: key -> sale_id

NUMERIC ENCODING:
  128-bit values are stored as base-10 TEXT (SQLite INTEGER is 64-bit).
  Buyers are stored as 32-byte BLOBs.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on summaries, windows or the arena
  - Only ledger_state is updated in place

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database (":memory:") is shared by every call. WAL mode.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger, err := sales.NewLedger(ctx, store)

SEE ALSO:
  - sales/store.go: The interface implemented here
  - sales/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/sale-ledger/sales"
	"lukechampine.com/uint128"
)

// Store implements sales.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Scalars (single row)
	CREATE TABLE IF NOT EXISTS ledger_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		sale_count INTEGER NOT NULL,
		tax_rate TEXT NOT NULL
	);

	-- Sale index
	CREATE TABLE IF NOT EXISTS sale_summaries (
		sale_id INTEGER PRIMARY KEY,
		buyer BLOB NOT NULL,
		total_ht TEXT NOT NULL,
		tva_amount TEXT NOT NULL,
		total_ttc TEXT NOT NULL
	);

	-- Item window index
	CREATE TABLE IF NOT EXISTS item_windows (
		sale_id INTEGER PRIMARY KEY,
		arena_offset INTEGER NOT NULL,
		item_count INTEGER NOT NULL
	);

	-- Item arena (append-only, shared by all sales)
	CREATE TABLE IF NOT EXISTS item_arena (
		position INTEGER PRIMARY KEY,
		item_id TEXT NOT NULL,
		price_ht TEXT NOT NULL
	);

	-- Idempotency keys
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		sale_id INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE (sales.Store interface)
// =============================================================================

func (s *Store) State(ctx context.Context) (sales.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getState(ctx, s.db)
}

func (s *Store) PutState(ctx context.Context, state sales.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putState(ctx, s.db, state)
}

func (s *Store) Summary(ctx context.Context, id sales.SaleID) (sales.SaleSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSummary(ctx, s.db, id)
}

func (s *Store) PutSummary(ctx context.Context, id sales.SaleID, summary sales.SaleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putSummary(ctx, s.db, id, summary)
}

func (s *Store) Window(ctx context.Context, id sales.SaleID) (sales.ItemWindow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getWindow(ctx, s.db, id)
}

func (s *Store) PutWindow(ctx context.Context, id sales.SaleID, window sales.ItemWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putWindow(ctx, s.db, id, window)
}

func (s *Store) ArenaLen(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return arenaLen(ctx, s.db)
}

// AppendItems appends items atomically.
func (s *Store) AppendItems(ctx context.Context, items []sales.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sales.NewStorageError("append items", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := appendItems(ctx, sqlTx, items); err != nil {
		return err
	}
	return sales.NewStorageError("append items", sqlTx.Commit())
}

func (s *Store) ReadItems(ctx context.Context, window sales.ItemWindow) ([]sales.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readItems(ctx, s.db, window)
}

func (s *Store) IdempotentSale(ctx context.Context, key string) (sales.SaleID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getIdempotentSale(ctx, s.db, key)
}

func (s *Store) PutIdempotentSale(ctx context.Context, key string, id sales.SaleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putIdempotentSale(ctx, s.db, key, id)
}

// =============================================================================
// TRANSACTIONS (sales.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store sales.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sales.NewStorageError("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sales.NewStorageError("commit", sqlTx.Commit())
}

// txStore routes every call through the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) State(ctx context.Context) (sales.State, bool, error) {
	return getState(ctx, ts.tx)
}

func (ts *txStore) PutState(ctx context.Context, state sales.State) error {
	return putState(ctx, ts.tx, state)
}

func (ts *txStore) Summary(ctx context.Context, id sales.SaleID) (sales.SaleSummary, bool, error) {
	return getSummary(ctx, ts.tx, id)
}

func (ts *txStore) PutSummary(ctx context.Context, id sales.SaleID, summary sales.SaleSummary) error {
	return putSummary(ctx, ts.tx, id, summary)
}

func (ts *txStore) Window(ctx context.Context, id sales.SaleID) (sales.ItemWindow, bool, error) {
	return getWindow(ctx, ts.tx, id)
}

func (ts *txStore) PutWindow(ctx context.Context, id sales.SaleID, window sales.ItemWindow) error {
	return putWindow(ctx, ts.tx, id, window)
}

func (ts *txStore) ArenaLen(ctx context.Context) (uint64, error) {
	return arenaLen(ctx, ts.tx)
}

func (ts *txStore) AppendItems(ctx context.Context, items []sales.Item) error {
	return appendItems(ctx, ts.tx, items)
}

func (ts *txStore) ReadItems(ctx context.Context, window sales.ItemWindow) ([]sales.Item, error) {
	return readItems(ctx, ts.tx, window)
}

func (ts *txStore) IdempotentSale(ctx context.Context, key string) (sales.SaleID, bool, error) {
	return getIdempotentSale(ctx, ts.tx, key)
}

func (ts *txStore) PutIdempotentSale(ctx context.Context, key string, id sales.SaleID) error {
	return putIdempotentSale(ctx, ts.tx, key, id)
}

// =============================================================================
// QUERIES
// =============================================================================

func getState(ctx context.Context, q querier) (sales.State, bool, error) {
	var (
		state     sales.State
		saleCount int64
		rate      string
	)
	err := q.QueryRowContext(ctx,
		`SELECT sale_count, tax_rate FROM ledger_state WHERE id = 1`).Scan(&saleCount, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return state, false, nil
	}
	if err != nil {
		return state, false, sales.NewStorageError("state", fmt.Errorf("failed to query state: %w", err))
	}

	state.SaleCount = uint64(saleCount)
	state.TaxRate, err = parseU128(rate)
	if err != nil {
		return sales.State{}, false, sales.NewStorageError("state", err)
	}
	return state, true, nil
}

func putState(ctx context.Context, q querier, state sales.State) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_state (id, sale_count, tax_rate) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sale_count = excluded.sale_count, tax_rate = excluded.tax_rate
	`, int64(state.SaleCount), state.TaxRate.String())
	if err != nil {
		return sales.NewStorageError("put state", fmt.Errorf("failed to save state: %w", err))
	}
	return nil
}

func getSummary(ctx context.Context, q querier, id sales.SaleID) (sales.SaleSummary, bool, error) {
	var (
		buyer                  []byte
		totalHT, tva, totalTTC string
	)
	err := q.QueryRowContext(ctx, `
		SELECT buyer, total_ht, tva_amount, total_ttc
		FROM sale_summaries WHERE sale_id = ?
	`, int64(id)).Scan(&buyer, &totalHT, &tva, &totalTTC)
	if errors.Is(err, sql.ErrNoRows) {
		return sales.SaleSummary{}, false, nil
	}
	if err != nil {
		return sales.SaleSummary{}, false, sales.NewStorageError("summary", fmt.Errorf("failed to query summary: %w", err))
	}

	summary, err := scanSummary(buyer, totalHT, tva, totalTTC)
	if err != nil {
		return sales.SaleSummary{}, false, sales.NewStorageError("summary", err)
	}
	return summary, true, nil
}

func scanSummary(buyer []byte, totalHT, tva, totalTTC string) (sales.SaleSummary, error) {
	var (
		summary sales.SaleSummary
		err     error
	)
	if summary.Buyer, err = sales.BuyerFromBytes(buyer); err != nil {
		return summary, err
	}
	if summary.TotalHT, err = parseU128(totalHT); err != nil {
		return summary, err
	}
	if summary.TVAAmount, err = parseU128(tva); err != nil {
		return summary, err
	}
	if summary.TotalTTC, err = parseU128(totalTTC); err != nil {
		return summary, err
	}
	return summary, nil
}

func putSummary(ctx context.Context, q querier, id sales.SaleID, summary sales.SaleSummary) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sale_summaries (sale_id, buyer, total_ht, tva_amount, total_ttc)
		VALUES (?, ?, ?, ?, ?)
	`, int64(id), summary.Buyer[:], summary.TotalHT.String(),
		summary.TVAAmount.String(), summary.TotalTTC.String())
	if err != nil {
		return sales.NewStorageError("put summary", fmt.Errorf("failed to save summary %d: %w", id, err))
	}
	return nil
}

func getWindow(ctx context.Context, q querier, id sales.SaleID) (sales.ItemWindow, bool, error) {
	var offset, count int64
	err := q.QueryRowContext(ctx,
		`SELECT arena_offset, item_count FROM item_windows WHERE sale_id = ?`,
		int64(id)).Scan(&offset, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return sales.ItemWindow{}, false, nil
	}
	if err != nil {
		return sales.ItemWindow{}, false, sales.NewStorageError("window", fmt.Errorf("failed to query window: %w", err))
	}
	return sales.ItemWindow{Offset: uint64(offset), Count: uint64(count)}, true, nil
}

func putWindow(ctx context.Context, q querier, id sales.SaleID, window sales.ItemWindow) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO item_windows (sale_id, arena_offset, item_count) VALUES (?, ?, ?)`,
		int64(id), int64(window.Offset), int64(window.Count))
	if err != nil {
		return sales.NewStorageError("put window", fmt.Errorf("failed to save window %d: %w", id, err))
	}
	return nil
}

func arenaLen(ctx context.Context, q querier) (uint64, error) {
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM item_arena`).Scan(&n)
	if err != nil {
		return 0, sales.NewStorageError("arena length", fmt.Errorf("failed to count arena: %w", err))
	}
	return uint64(n), nil
}

// appendItems assigns positions len, len+1, ... in input order.
func appendItems(ctx context.Context, q querier, items []sales.Item) error {
	if len(items) == 0 {
		return nil
	}
	next, err := arenaLen(ctx, q)
	if err != nil {
		return err
	}
	for i, item := range items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO item_arena (position, item_id, price_ht) VALUES (?, ?, ?)`,
			int64(next)+int64(i), item.ID.String(), item.PriceHT.String())
		if err != nil {
			return sales.NewStorageError("append items", fmt.Errorf("failed to append item: %w", err))
		}
	}
	return nil
}

func readItems(ctx context.Context, q querier, window sales.ItemWindow) ([]sales.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, price_ht FROM item_arena
		WHERE position >= ? AND position < ?
		ORDER BY position ASC
	`, int64(window.Offset), int64(window.End()))
	if err != nil {
		return nil, sales.NewStorageError("read items", fmt.Errorf("failed to query arena: %w", err))
	}
	defer rows.Close()

	items := make([]sales.Item, 0, window.Count)
	for rows.Next() {
		var id, price string
		if err := rows.Scan(&id, &price); err != nil {
			return nil, sales.NewStorageError("read items", fmt.Errorf("failed to scan item: %w", err))
		}
		item, err := parseItem(id, price)
		if err != nil {
			return nil, sales.NewStorageError("read items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, sales.NewStorageError("read items", err)
	}
	if uint64(len(items)) != window.Count {
		return nil, sales.NewStorageError("read items",
			fmt.Errorf("window [%d,%d) returned %d items", window.Offset, window.End(), len(items)))
	}
	return items, nil
}

func getIdempotentSale(ctx context.Context, q querier, key string) (sales.SaleID, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT sale_id FROM idempotency_keys WHERE key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, sales.NewStorageError("idempotency", fmt.Errorf("failed to query key: %w", err))
	}
	return sales.SaleID(id), true, nil
}

func putIdempotentSale(ctx context.Context, q querier, key string, id sales.SaleID) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, sale_id) VALUES (?, ?)`, key, int64(id))
	if err != nil {
		if isUniqueConstraintError(err) {
			return sales.NewStorageError("put idempotency", fmt.Errorf("key %q already bound", key))
		}
		return sales.NewStorageError("put idempotency", fmt.Errorf("failed to save key: %w", err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseU128(s string) (uint128.Uint128, error) {
	v, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("corrupt 128-bit value %q: %w", s, err)
	}
	return v, nil
}

func parseItem(id, price string) (sales.Item, error) {
	itemID, err := parseU128(id)
	if err != nil {
		return sales.Item{}, err
	}
	priceHT, err := parseU128(price)
	if err != nil {
		return sales.Item{}, err
	}
	return sales.Item{ID: itemID, PriceHT: priceHT}, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
