package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-ledger/sales"
	"github.com/warp/sale-ledger/sales/store"
	"lukechampine.com/uint128"
)

func items(prices ...uint64) []sales.Item {
	out := make([]sales.Item, len(prices))
	for i, p := range prices {
		out[i] = sales.Item{ID: uint128.From64(uint64(i)), PriceHT: uint128.From64(p)}
	}
	return out
}

func TestMemory_ArenaReads(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendItems(ctx, items(1, 2, 3)))
	n, err := m.ArenaLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	got, err := m.ReadItems(ctx, sales.ItemWindow{Offset: 1, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, items(1, 2, 3)[1:], got)

	// returned slices are copies
	got[0].PriceHT = uint128.From64(99)
	again, err := m.ReadItems(ctx, sales.ItemWindow{Offset: 1, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, uint128.From64(2), again[0].PriceHT)

	_, err = m.ReadItems(ctx, sales.ItemWindow{Offset: 2, Count: 2})
	assert.ErrorIs(t, err, sales.ErrStorageFailure)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, tm.PutState(ctx, sales.InitialState(uint128.From64(20))))
	require.NoError(t, tm.AppendItems(ctx, items(5)))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s sales.Store) error {
		require.NoError(t, s.PutSummary(ctx, 0, sales.SaleSummary{TotalHT: uint128.From64(5)}))
		require.NoError(t, s.PutWindow(ctx, 0, sales.ItemWindow{Offset: 1, Count: 2}))
		require.NoError(t, s.AppendItems(ctx, items(6, 7)))
		require.NoError(t, s.PutIdempotentSale(ctx, "k", 0))
		require.NoError(t, s.PutState(ctx, sales.State{SaleCount: 1, TaxRate: uint128.From64(20)}))

		n, err := s.ArenaLen(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	state, ok, err := tm.State(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, state.SaleCount)

	_, ok, _ = tm.Summary(ctx, 0)
	assert.False(t, ok)
	_, ok, _ = tm.Window(ctx, 0)
	assert.False(t, ok)
	_, ok, _ = tm.IdempotentSale(ctx, "k")
	assert.False(t, ok)
	n, err := tm.ArenaLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestTxMemory_Commit(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()

	err := tm.WithTx(ctx, func(s sales.Store) error {
		if err := s.AppendItems(ctx, items(1, 2)); err != nil {
			return err
		}
		return s.PutWindow(ctx, 0, sales.ItemWindow{Offset: 0, Count: 2})
	})
	require.NoError(t, err)

	w, ok, err := tm.Window(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := tm.ReadItems(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, items(1, 2), got)
}
