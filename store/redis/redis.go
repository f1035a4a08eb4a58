/*
Package redis provides a Redis-backed implementation of sales.TxStore.

KEY LAYOUT (prefix defaults to "ledger"):
  <prefix>:state          hash  {sale_count, tax_rate}
  <prefix>:summary:<id>   hash  {buyer, total_ht, tva_amount, total_ttc}
  <prefix>:window:<id>    hash  {offset, count}
  <prefix>:arena          list  "<item_id>:<price_ht>" per item, RPUSH only
  <prefix>:idem:<key>     string sale id

TRANSACTIONS:
  WithTx WATCHes the state and arena keys, buffers every write made by fn
  in a view (reads see the buffer first), then flushes the buffer in one
  MULTI/EXEC. If another client touched a watched key the EXEC aborts and
  nothing is written.
*/
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/warp/sale-ledger/config"
	"github.com/warp/sale-ledger/sales"
	"lukechampine.com/uint128"
)

// reader is the read surface shared by *redis.Client and *redis.Tx.
type reader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Store implements sales.TxStore on Redis.
type Store struct {
	mu     sync.Mutex
	client *redis.Client
	keys   keyspace
}

// New connects using cfg and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ledger"
	}
	return &Store{client: client, keys: keyspace{prefix: prefix}}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// =============================================================================
// STORE (sales.Store interface)
// =============================================================================

func (s *Store) State(ctx context.Context) (sales.State, bool, error) {
	return getState(ctx, s.client, s.keys)
}

func (s *Store) PutState(ctx context.Context, state sales.State) error {
	return sales.NewStorageError("put state",
		s.client.HSet(ctx, s.keys.state(), encodeState(state)).Err())
}

func (s *Store) Summary(ctx context.Context, id sales.SaleID) (sales.SaleSummary, bool, error) {
	return getSummary(ctx, s.client, s.keys, id)
}

func (s *Store) PutSummary(ctx context.Context, id sales.SaleID, summary sales.SaleSummary) error {
	return sales.NewStorageError("put summary",
		s.client.HSet(ctx, s.keys.summary(id), encodeSummary(summary)).Err())
}

func (s *Store) Window(ctx context.Context, id sales.SaleID) (sales.ItemWindow, bool, error) {
	return getWindow(ctx, s.client, s.keys, id)
}

func (s *Store) PutWindow(ctx context.Context, id sales.SaleID, window sales.ItemWindow) error {
	return sales.NewStorageError("put window",
		s.client.HSet(ctx, s.keys.window(id), encodeWindow(window)).Err())
}

func (s *Store) ArenaLen(ctx context.Context) (uint64, error) {
	return arenaLen(ctx, s.client, s.keys)
}

func (s *Store) AppendItems(ctx context.Context, items []sales.Item) error {
	if len(items) == 0 {
		return nil
	}
	return sales.NewStorageError("append items",
		s.client.RPush(ctx, s.keys.arena(), encodeItems(items)...).Err())
}

func (s *Store) ReadItems(ctx context.Context, window sales.ItemWindow) ([]sales.Item, error) {
	return readItems(ctx, s.client, s.keys, window)
}

func (s *Store) IdempotentSale(ctx context.Context, key string) (sales.SaleID, bool, error) {
	return getIdempotentSale(ctx, s.client, s.keys, key)
}

func (s *Store) PutIdempotentSale(ctx context.Context, key string, id sales.SaleID) error {
	return sales.NewStorageError("put idempotency",
		s.client.Set(ctx, s.keys.idempotency(key), strconv.FormatUint(uint64(id), 10), 0).Err())
}

// =============================================================================
// TRANSACTIONS (sales.TxStore interface)
// =============================================================================

// WithTx buffers fn's writes and commits them in one MULTI/EXEC.
func (s *Store) WithTx(ctx context.Context, fn func(sales.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fnErr error
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		view := newTxView(tx, s.keys)
		if fnErr = fn(view); fnErr != nil {
			return fnErr
		}
		if view.empty() {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			view.flush(ctx, pipe)
			return nil
		})
		return err
	}, s.keys.state(), s.keys.arena())

	if fnErr != nil {
		return fnErr
	}
	if errors.Is(err, redis.TxFailedErr) {
		return sales.NewStorageError("commit", fmt.Errorf("concurrent modification: %w", err))
	}
	return sales.NewStorageError("commit", err)
}

// txView reads through the watched connection and buffers writes.
type txView struct {
	r    reader
	keys keyspace

	state       *sales.State
	summaries   map[sales.SaleID]sales.SaleSummary
	windows     map[sales.SaleID]sales.ItemWindow
	appended    []sales.Item
	idempotency map[string]sales.SaleID
}

func newTxView(r reader, keys keyspace) *txView {
	return &txView{
		r:           r,
		keys:        keys,
		summaries:   make(map[sales.SaleID]sales.SaleSummary),
		windows:     make(map[sales.SaleID]sales.ItemWindow),
		idempotency: make(map[string]sales.SaleID),
	}
}

func (v *txView) empty() bool {
	return v.state == nil && len(v.summaries) == 0 && len(v.windows) == 0 &&
		len(v.appended) == 0 && len(v.idempotency) == 0
}

func (v *txView) flush(ctx context.Context, pipe redis.Pipeliner) {
	for id, summary := range v.summaries {
		pipe.HSet(ctx, v.keys.summary(id), encodeSummary(summary))
	}
	for id, window := range v.windows {
		pipe.HSet(ctx, v.keys.window(id), encodeWindow(window))
	}
	if len(v.appended) > 0 {
		pipe.RPush(ctx, v.keys.arena(), encodeItems(v.appended)...)
	}
	for key, id := range v.idempotency {
		pipe.Set(ctx, v.keys.idempotency(key), strconv.FormatUint(uint64(id), 10), 0)
	}
	if v.state != nil {
		pipe.HSet(ctx, v.keys.state(), encodeState(*v.state))
	}
}

func (v *txView) State(ctx context.Context) (sales.State, bool, error) {
	if v.state != nil {
		return *v.state, true, nil
	}
	return getState(ctx, v.r, v.keys)
}

func (v *txView) PutState(_ context.Context, state sales.State) error {
	s := state
	v.state = &s
	return nil
}

func (v *txView) Summary(ctx context.Context, id sales.SaleID) (sales.SaleSummary, bool, error) {
	if s, ok := v.summaries[id]; ok {
		return s, true, nil
	}
	return getSummary(ctx, v.r, v.keys, id)
}

func (v *txView) PutSummary(_ context.Context, id sales.SaleID, summary sales.SaleSummary) error {
	v.summaries[id] = summary
	return nil
}

func (v *txView) Window(ctx context.Context, id sales.SaleID) (sales.ItemWindow, bool, error) {
	if w, ok := v.windows[id]; ok {
		return w, true, nil
	}
	return getWindow(ctx, v.r, v.keys, id)
}

func (v *txView) PutWindow(_ context.Context, id sales.SaleID, window sales.ItemWindow) error {
	v.windows[id] = window
	return nil
}

func (v *txView) ArenaLen(ctx context.Context) (uint64, error) {
	n, err := arenaLen(ctx, v.r, v.keys)
	if err != nil {
		return 0, err
	}
	return n + uint64(len(v.appended)), nil
}

func (v *txView) AppendItems(_ context.Context, items []sales.Item) error {
	v.appended = append(v.appended, items...)
	return nil
}

func (v *txView) ReadItems(ctx context.Context, window sales.ItemWindow) ([]sales.Item, error) {
	committed, err := arenaLen(ctx, v.r, v.keys)
	if err != nil {
		return nil, err
	}
	if window.End() > committed+uint64(len(v.appended)) {
		return nil, sales.NewStorageError("read items",
			fmt.Errorf("window [%d,%d) past arena end", window.Offset, window.End()))
	}

	result := make([]sales.Item, 0, window.Count)
	if window.Offset < committed {
		live := window
		if live.End() > committed {
			live.Count = committed - live.Offset
		}
		items, err := readItems(ctx, v.r, v.keys, live)
		if err != nil {
			return nil, err
		}
		result = append(result, items...)
	}
	for pos := max(window.Offset, committed); pos < window.End(); pos++ {
		result = append(result, v.appended[pos-committed])
	}
	return result, nil
}

func (v *txView) IdempotentSale(ctx context.Context, key string) (sales.SaleID, bool, error) {
	if id, ok := v.idempotency[key]; ok {
		return id, true, nil
	}
	return getIdempotentSale(ctx, v.r, v.keys, key)
}

func (v *txView) PutIdempotentSale(_ context.Context, key string, id sales.SaleID) error {
	v.idempotency[key] = id
	return nil
}

// =============================================================================
// READS
// =============================================================================

func getState(ctx context.Context, r reader, keys keyspace) (sales.State, bool, error) {
	fields, err := r.HGetAll(ctx, keys.state()).Result()
	if err != nil {
		return sales.State{}, false, sales.NewStorageError("state", err)
	}
	if len(fields) == 0 {
		return sales.State{}, false, nil
	}
	state, err := decodeState(fields)
	if err != nil {
		return sales.State{}, false, sales.NewStorageError("state", err)
	}
	return state, true, nil
}

func getSummary(ctx context.Context, r reader, keys keyspace, id sales.SaleID) (sales.SaleSummary, bool, error) {
	fields, err := r.HGetAll(ctx, keys.summary(id)).Result()
	if err != nil {
		return sales.SaleSummary{}, false, sales.NewStorageError("summary", err)
	}
	if len(fields) == 0 {
		return sales.SaleSummary{}, false, nil
	}
	summary, err := decodeSummary(fields)
	if err != nil {
		return sales.SaleSummary{}, false, sales.NewStorageError("summary", err)
	}
	return summary, true, nil
}

func getWindow(ctx context.Context, r reader, keys keyspace, id sales.SaleID) (sales.ItemWindow, bool, error) {
	fields, err := r.HGetAll(ctx, keys.window(id)).Result()
	if err != nil {
		return sales.ItemWindow{}, false, sales.NewStorageError("window", err)
	}
	if len(fields) == 0 {
		return sales.ItemWindow{}, false, nil
	}
	window, err := decodeWindow(fields)
	if err != nil {
		return sales.ItemWindow{}, false, sales.NewStorageError("window", err)
	}
	return window, true, nil
}

func arenaLen(ctx context.Context, r reader, keys keyspace) (uint64, error) {
	n, err := r.LLen(ctx, keys.arena()).Result()
	if err != nil {
		return 0, sales.NewStorageError("arena length", err)
	}
	return uint64(n), nil
}

func readItems(ctx context.Context, r reader, keys keyspace, window sales.ItemWindow) ([]sales.Item, error) {
	if window.Empty() {
		return []sales.Item{}, nil
	}
	raw, err := r.LRange(ctx, keys.arena(), int64(window.Offset), int64(window.End())-1).Result()
	if err != nil {
		return nil, sales.NewStorageError("read items", err)
	}
	if uint64(len(raw)) != window.Count {
		return nil, sales.NewStorageError("read items",
			fmt.Errorf("window [%d,%d) returned %d items", window.Offset, window.End(), len(raw)))
	}
	items := make([]sales.Item, len(raw))
	for i, s := range raw {
		if items[i], err = decodeItem(s); err != nil {
			return nil, sales.NewStorageError("read items", err)
		}
	}
	return items, nil
}

func getIdempotentSale(ctx context.Context, r reader, keys keyspace, key string) (sales.SaleID, bool, error) {
	raw, err := r.Get(ctx, keys.idempotency(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, sales.NewStorageError("idempotency", err)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, sales.NewStorageError("idempotency", fmt.Errorf("corrupt sale id %q: %w", raw, err))
	}
	return sales.SaleID(id), true, nil
}

// =============================================================================
// KEYS & ENCODING
// =============================================================================

type keyspace struct {
	prefix string
}

func (k keyspace) state() string { return k.prefix + ":state" }
func (k keyspace) arena() string { return k.prefix + ":arena" }

func (k keyspace) summary(id sales.SaleID) string {
	return fmt.Sprintf("%s:summary:%d", k.prefix, id)
}

func (k keyspace) window(id sales.SaleID) string {
	return fmt.Sprintf("%s:window:%d", k.prefix, id)
}

func (k keyspace) idempotency(key string) string {
	return k.prefix + ":idem:" + key
}

func encodeState(s sales.State) map[string]any {
	return map[string]any{
		"sale_count": strconv.FormatUint(s.SaleCount, 10),
		"tax_rate":   s.TaxRate.String(),
	}
}

func decodeState(fields map[string]string) (sales.State, error) {
	count, err := strconv.ParseUint(fields["sale_count"], 10, 64)
	if err != nil {
		return sales.State{}, fmt.Errorf("corrupt sale_count: %w", err)
	}
	rate, err := uint128.FromString(fields["tax_rate"])
	if err != nil {
		return sales.State{}, fmt.Errorf("corrupt tax_rate: %w", err)
	}
	return sales.State{SaleCount: count, TaxRate: rate}, nil
}

func encodeSummary(s sales.SaleSummary) map[string]any {
	return map[string]any{
		"buyer":      s.Buyer.String(),
		"total_ht":   s.TotalHT.String(),
		"tva_amount": s.TVAAmount.String(),
		"total_ttc":  s.TotalTTC.String(),
	}
}

func decodeSummary(fields map[string]string) (sales.SaleSummary, error) {
	var (
		s   sales.SaleSummary
		err error
	)
	if s.Buyer, err = sales.ParseBuyer(fields["buyer"]); err != nil {
		return s, err
	}
	for name, dst := range map[string]*uint128.Uint128{
		"total_ht":   &s.TotalHT,
		"tva_amount": &s.TVAAmount,
		"total_ttc":  &s.TotalTTC,
	} {
		if *dst, err = uint128.FromString(fields[name]); err != nil {
			return s, fmt.Errorf("corrupt %s: %w", name, err)
		}
	}
	return s, nil
}

func encodeWindow(w sales.ItemWindow) map[string]any {
	return map[string]any{
		"offset": strconv.FormatUint(w.Offset, 10),
		"count":  strconv.FormatUint(w.Count, 10),
	}
}

func decodeWindow(fields map[string]string) (sales.ItemWindow, error) {
	offset, err := strconv.ParseUint(fields["offset"], 10, 64)
	if err != nil {
		return sales.ItemWindow{}, fmt.Errorf("corrupt offset: %w", err)
	}
	count, err := strconv.ParseUint(fields["count"], 10, 64)
	if err != nil {
		return sales.ItemWindow{}, fmt.Errorf("corrupt count: %w", err)
	}
	return sales.ItemWindow{Offset: offset, Count: count}, nil
}

func encodeItems(items []sales.Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.ID.String() + ":" + it.PriceHT.String()
	}
	return out
}

func decodeItem(s string) (sales.Item, error) {
	id, price, ok := strings.Cut(s, ":")
	if !ok {
		return sales.Item{}, fmt.Errorf("corrupt arena entry %q", s)
	}
	itemID, err := uint128.FromString(id)
	if err != nil {
		return sales.Item{}, fmt.Errorf("corrupt item id %q: %w", id, err)
	}
	priceHT, err := uint128.FromString(price)
	if err != nil {
		return sales.Item{}, fmt.Errorf("corrupt item price %q: %w", price, err)
	}
	return sales.Item{ID: itemID, PriceHT: priceHT}, nil
}
