/*
handlers.go - HTTP API handlers for the sale ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to sales.Ledger.

ENDPOINTS:
  Tax rate:
    GET    /api/tax-rate             Current rate
    PUT    /api/tax-rate             Change the rate (actor: X-Actor-ID)

  Sales:
    POST   /api/sales                Record a sale (Idempotency-Key optional)
    GET    /api/sales                Page through sales (?from=&limit=)
    GET    /api/sales/count          Number of recorded sales
    GET    /api/sales/{id}           One sale with its items
    GET    /api/sales/{id}/window    The sale's arena window

  Arena:
    GET    /api/arena                Arena length

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the ledger
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Rate change refused by the authorizer
  - 404: Unknown sale
  - 409: Idempotency-Key reused with a different sale
  - 422: Totals overflow 128 bits
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/sale-ledger/logger"
	"github.com/warp/sale-ledger/sales"
	"lukechampine.com/uint128"
)

const (
	// ActorHeader names the caller of a rate change.
	ActorHeader = "X-Actor-ID"

	// IdempotencyHeader carries a client-chosen UUID for POST /api/sales.
	IdempotencyHeader = "Idempotency-Key"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *sales.Ledger
	Log    *logger.Logger
}

// NewHandler creates a new handler over ledger.
func NewHandler(ledger *sales.Ledger, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{Ledger: ledger, Log: log}
}

// =============================================================================
// TAX RATE ENDPOINTS
// =============================================================================

// GetTaxRate returns the rate applied to the next sale.
func (h *Handler) GetTaxRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.Ledger.TaxRate(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "failed to read tax rate", err)
		return
	}
	writeJSON(w, http.StatusOK, TaxRateDTO{Rate: rate.String()})
}

// SetTaxRate changes the rate for future sales.
func (h *Handler) SetTaxRate(w http.ResponseWriter, r *http.Request) {
	var req SetTaxRateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rate, err := parseU128("rate", req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rate", err)
		return
	}

	actor := r.Header.Get(ActorHeader)
	if err := h.Ledger.SetTaxRate(r.Context(), actor, rate); err != nil {
		h.writeLedgerError(w, r, "failed to set tax rate", err)
		return
	}
	writeJSON(w, http.StatusOK, TaxRateDTO{Rate: rate.String()})
}

// =============================================================================
// SALE ENDPOINTS
// =============================================================================

// RecordSale appends a sale. Replays of a known Idempotency-Key return
// 200 with the original identifier instead of 201, or 409 when the body
// differs from the sale the key recorded.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var key string
	if raw := r.Header.Get(IdempotencyHeader); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid idempotency key",
				fmt.Errorf("%s must be a UUID", IdempotencyHeader))
			return
		}
		key = parsed.String()
	}

	var req RecordSaleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	buyer, items, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale", err)
		return
	}

	res, err := h.Ledger.Record(r.Context(), sales.SaleInput{
		Buyer:          buyer,
		Items:          items,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeLedgerError(w, r, "failed to record sale", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, RecordSaleResponse{SaleID: uint64(res.ID), Replayed: res.Replayed})
}

// GetSale returns one sale with its items.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	sale, err := h.Ledger.GetSale(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "failed to get sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// GetSaleWindow returns where a sale's items live in the arena.
func (h *Handler) GetSaleWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	window, err := h.Ledger.Window(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "failed to get window", err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowDTO(id, window))
}

// ListSales pages through consecutive sales.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from uint64
	if s := q.Get("from"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from", err)
			return
		}
		from = v
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit",
				fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = v
	}

	ctx := r.Context()
	list, err := h.Ledger.ListSales(ctx, sales.SaleID(from), limit)
	if err != nil {
		h.writeLedgerError(w, r, "failed to list sales", err)
		return
	}
	count, err := h.Ledger.SaleCount(ctx)
	if err != nil {
		h.writeLedgerError(w, r, "failed to count sales", err)
		return
	}

	dtos := make([]SaleDTO, len(list))
	for i, s := range list {
		dtos[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, ListSalesResponse{Sales: dtos, From: from, SaleCount: count})
}

// GetSaleCount returns the number of recorded sales.
func (h *Handler) GetSaleCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Ledger.SaleCount(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "failed to count sales", err)
		return
	}
	writeJSON(w, http.StatusOK, SaleCountDTO{SaleCount: count})
}

// GetArena returns the arena length.
func (h *Handler) GetArena(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ledger.ArenaLen(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "failed to read arena", err)
		return
	}
	writeJSON(w, http.StatusOK, ArenaDTO{Length: n})
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// saleID parses the {id} path parameter. Any unsigned 128-bit value is
// accepted; values past the 64-bit identifier space are reported as
// not found rather than malformed.
func (h *Handler) saleID(w http.ResponseWriter, r *http.Request) (sales.SaleID, bool) {
	raw := chi.URLParam(r, "id")
	v, err := uint128.FromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale id",
			fmt.Errorf("sale id must be an unsigned integer"))
		return 0, false
	}
	if v.Hi != 0 {
		writeError(w, http.StatusNotFound, "sale not found",
			fmt.Errorf("%w: %s", sales.ErrSaleNotFound, raw))
		return 0, false
	}
	return sales.SaleID(v.Lo), true
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(r.Context(), message, err)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Details: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sales.ErrUnauthorized):
		return http.StatusForbidden
	case sales.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, sales.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, sales.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sales.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
