package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-ledger/sales"
	"github.com/warp/sale-ledger/store/sqlite"
	"lukechampine.com/uint128"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func u(n uint64) uint128.Uint128 { return uint128.From64(n) }

// =============================================================================
// REGION TESTS
// =============================================================================

func TestStore_StateUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.State(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutState(ctx, sales.InitialState(u(20))))
	require.NoError(t, store.PutState(ctx, sales.State{SaleCount: 4, TaxRate: uint128.Max}))

	state, ok, err := store.State(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), state.SaleCount)
	assert.Equal(t, uint128.Max, state.TaxRate)
}

func TestStore_SummaryKeepsFullWidth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	summary := sales.SaleSummary{
		Buyer:     sales.MustParseBuyer("0x7" + "f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0"),
		TotalHT:   uint128.Max.Div64(2),
		TVAAmount: u(1),
		TotalTTC:  uint128.Max.Div64(2).Add64(1),
	}
	require.NoError(t, store.PutSummary(ctx, 9, summary))

	got, ok, err := store.Summary(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary, got)

	_, ok, err = store.Summary(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Arena(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	n, err := store.ArenaLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	first := []sales.Item{{ID: u(1), PriceHT: u(10)}, {ID: uint128.Max, PriceHT: u(20)}}
	second := []sales.Item{{ID: u(3), PriceHT: u(30)}}
	require.NoError(t, store.AppendItems(ctx, first))
	require.NoError(t, store.AppendItems(ctx, second))
	require.NoError(t, store.AppendItems(ctx, nil))

	n, err = store.ArenaLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	got, err := store.ReadItems(ctx, sales.ItemWindow{Offset: 0, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = store.ReadItems(ctx, sales.ItemWindow{Offset: 2, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = store.ReadItems(ctx, sales.ItemWindow{Offset: 2, Count: 5})
	assert.ErrorIs(t, err, sales.ErrStorageFailure)
}

func TestStore_IdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.IdempotentSale(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutIdempotentSale(ctx, "k1", 42))
	id, ok, err := store.IdempotentSale(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sales.SaleID(42), id)

	err = store.PutIdempotentSale(ctx, "k1", 43)
	assert.ErrorIs(t, err, sales.ErrStorageFailure)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_Rollback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.PutState(ctx, sales.InitialState(u(20))))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s sales.Store) error {
		require.NoError(t, s.PutSummary(ctx, 0, sales.SaleSummary{}))
		require.NoError(t, s.PutWindow(ctx, 0, sales.ItemWindow{Offset: 0, Count: 1}))
		require.NoError(t, s.AppendItems(ctx, []sales.Item{{ID: u(1), PriceHT: u(1)}}))
		require.NoError(t, s.PutState(ctx, sales.State{SaleCount: 1, TaxRate: u(20)}))

		n, err := s.ArenaLen(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	state, _, err := store.State(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.SaleCount)
	_, ok, err := store.Window(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := store.ArenaLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: a ledger file with two recorded sales
	// WHEN: the file is reopened
	// THEN: sales, windows and the rate are intact and ids continue

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	ledger, err := sales.NewLedger(ctx, store)
	require.NoError(t, err)

	buyer := sales.MustParseBuyer("0xabc")
	_, err = ledger.RecordSale(ctx, buyer, []sales.Item{{ID: u(1), PriceHT: u(100)}})
	require.NoError(t, err)
	require.NoError(t, ledger.SetTaxRate(ctx, "", u(10)))
	_, err = ledger.RecordSale(ctx, buyer, []sales.Item{{ID: u(2), PriceHT: u(50)}, {ID: u(3), PriceHT: u(50)}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	ledger, err = sales.NewLedger(ctx, reopened)
	require.NoError(t, err)

	rate, err := ledger.TaxRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, u(10), rate)

	first, err := ledger.GetSale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, u(120), first.TotalTTC)

	second, err := ledger.GetSale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, u(110), second.TotalTTC)
	assert.Len(t, second.Items, 2)

	id, err := ledger.RecordSale(ctx, buyer, nil)
	require.NoError(t, err)
	assert.Equal(t, sales.SaleID(2), id)
	w, err := ledger.Window(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sales.ItemWindow{Offset: 3, Count: 0}, w)
}
