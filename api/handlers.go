/*
handlers.go - HTTP API handlers for the order engine

PURPOSE:
  Exposes the order pipeline via REST. Handles HTTP request/response and
  JSON serialization, then delegates to the processor; none of the
  concurrency discipline lives here.

ENDPOINTS:
  POST /api/orders          Process a single order
  POST /api/orders/batch    Process a batch, priority orders first
  GET  /api/stats           Daily statistics snapshot
  GET  /api/balance/{id}    Customer balance (collaborator read-through)
  POST /api/reset           Full reset: ledger, stats, balances (test support)

ERROR HANDLING:
  Business outcomes (rejected, insufficient_funds, failed) are reported
  with HTTP 200 and a status field, so client-side retries can stop once
  they observe a terminal status. HTTP error codes are reserved for
  malformed requests (400) and infrastructure faults (500).
*/
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/order-engine/balance"
	"github.com/warp/order-engine/order"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Processor *order.Processor
	Balances  *balance.Service
}

func NewHandler(processor *order.Processor, balances *balance.Service) *Handler {
	return &Handler{Processor: processor, Balances: balances}
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder processes a single order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := h.Processor.Process(r.Context(), toOrder(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "order processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(out))
}

// CreateOrderBatch processes a batch of orders. One order's failure never
// aborts its siblings; results are reported per order, priority first.
func (h *Handler) CreateOrderBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	orders := make([]order.Order, len(req.Orders))
	for i, o := range req.Orders {
		orders[i] = toOrder(o)
	}

	outcomes := h.Processor.ProcessBatch(r.Context(), orders)
	responses := make([]OrderResponse, len(outcomes))
	for i, out := range outcomes {
		responses[i] = toOrderResponse(out)
	}
	writeJSON(w, http.StatusOK, responses)
}

// =============================================================================
// STATS AND BALANCE HANDLERS
// =============================================================================

// GetStats returns the current day's statistics snapshot.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatsResponse(h.Processor.Stats()))
}

// GetBalance returns a customer's current balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id", err)
		return
	}

	bal, _ := h.Balances.GetBalance(order.CustomerID(customerID)).Float64()
	writeJSON(w, http.StatusOK, BalanceResponse{CustomerID: customerID, Balance: bal})
}

// =============================================================================
// RESET HANDLER
// =============================================================================

// Reset atomically clears the ledger, the statistics and the collaborator
// balances. Intended for test isolation; mutually exclusive with in-flight
// order processing.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Processor.Reset(r.Context(), h.Balances.Reset); err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset complete"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		log.Printf("%s: %v", message, err)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}
