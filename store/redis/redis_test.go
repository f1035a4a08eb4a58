package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-ledger/config"
	"github.com/warp/sale-ledger/sales"
	"lukechampine.com/uint128"
)

// =============================================================================
// ENCODING
// =============================================================================

func toStrings(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.(string)
	}
	return out
}

func TestEncoding_Summary(t *testing.T) {
	summary := sales.SaleSummary{
		Buyer:     sales.MustParseBuyer("0x5eed"),
		TotalHT:   uint128.Max.Div64(3),
		TVAAmount: uint128.From64(7),
		TotalTTC:  uint128.Max,
	}
	got, err := decodeSummary(toStrings(encodeSummary(summary)))
	require.NoError(t, err)
	assert.Equal(t, summary, got)

	_, err = decodeSummary(map[string]string{"buyer": "0x1", "total_ht": "x"})
	assert.Error(t, err)
}

func TestEncoding_StateAndWindow(t *testing.T) {
	state := sales.State{SaleCount: 12, TaxRate: uint128.From64(20)}
	gotState, err := decodeState(toStrings(encodeState(state)))
	require.NoError(t, err)
	assert.Equal(t, state, gotState)

	window := sales.ItemWindow{Offset: 40, Count: 3}
	gotWindow, err := decodeWindow(toStrings(encodeWindow(window)))
	require.NoError(t, err)
	assert.Equal(t, window, gotWindow)
}

func TestEncoding_Items(t *testing.T) {
	items := []sales.Item{
		{ID: uint128.From64(1), PriceHT: uint128.From64(100)},
		{ID: uint128.Max, PriceHT: uint128.Zero},
	}
	for i, raw := range encodeItems(items) {
		got, err := decodeItem(raw.(string))
		require.NoError(t, err)
		assert.Equal(t, items[i], got)
	}

	_, err := decodeItem("no-separator")
	assert.Error(t, err)
}

func TestKeyspace(t *testing.T) {
	k := keyspace{prefix: "shop"}
	assert.Equal(t, "shop:state", k.state())
	assert.Equal(t, "shop:arena", k.arena())
	assert.Equal(t, "shop:summary:3", k.summary(3))
	assert.Equal(t, "shop:window:3", k.window(3))
	assert.Equal(t, "shop:idem:abc", k.idempotency("abc"))
}

// =============================================================================
// LIVE SERVER (LEDGER_TEST_REDIS_URL)
// =============================================================================

func newLiveStore(t *testing.T) *Store {
	url := os.Getenv("LEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("ledger-test-%d", time.Now().UnixNano())
	store, err := New(ctx, config.RedisConfig{URL: url, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := store.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			store.client.Del(ctx, keys...)
		}
		store.Close()
	})
	return store
}

func TestStore_Live_RecordAndRollback(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	ledger, err := sales.NewLedger(ctx, store)
	require.NoError(t, err)

	buyer := sales.MustParseBuyer("0x1")
	items := []sales.Item{
		{ID: uint128.From64(1), PriceHT: uint128.From64(100)},
		{ID: uint128.From64(2), PriceHT: uint128.From64(200)},
	}
	id, err := ledger.RecordSale(ctx, buyer, items)
	require.NoError(t, err)

	sale, err := ledger.GetSale(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, items, sale.Items)
	assert.Equal(t, uint128.From64(360), sale.TotalTTC)

	_, err = ledger.RecordSale(ctx, buyer, []sales.Item{{PriceHT: uint128.Max}, {PriceHT: uint128.From64(1)}})
	require.ErrorIs(t, err, sales.ErrArithmeticOverflow)

	n, err := ledger.ArenaLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	count, err := ledger.SaleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestTxView_ReadsBufferedItems(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendItems(ctx, []sales.Item{{ID: uint128.From64(1)}}))

	err := store.client.Watch(ctx, func(tx *redis.Tx) error {
		view := newTxView(tx, store.keys)
		require.NoError(t, view.AppendItems(ctx, []sales.Item{{ID: uint128.From64(2)}}))

		n, err := view.ArenaLen(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		got, err := view.ReadItems(ctx, sales.ItemWindow{Offset: 0, Count: 2})
		require.NoError(t, err)
		assert.Equal(t, uint128.From64(1), got[0].ID)
		assert.Equal(t, uint128.From64(2), got[1].ID)
		return nil
	}, store.keys.arena())
	require.NoError(t, err)
}
