/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model (decimal amounts, typed identifiers) from the
  external API contract (plain numbers).

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Types returned to clients

VALIDATION:
  Structural validation is done in handlers; amount semantics (positive,
  sufficient balance) are the processor's business.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/order-engine/order"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// OrderRequest is a single incoming order.
type OrderRequest struct {
	ID         int64   `json:"id"`
	CustomerID int64   `json:"customer_id"`
	Amount     float64 `json:"amount"`
	Priority   bool    `json:"priority"`
}

// BatchOrderRequest wraps multiple orders processed independently.
type BatchOrderRequest struct {
	Orders []OrderRequest `json:"orders"`
}

// OrderResponse reports the terminal outcome of one order.
type OrderResponse struct {
	ID         int64    `json:"id"`
	Status     string   `json:"status"`
	Priority   bool     `json:"priority"`
	Message    string   `json:"message,omitempty"`
	NewBalance *float64 `json:"new_balance,omitempty"`
}

// StatsResponse is a consistent snapshot of the current day.
type StatsResponse struct {
	Date         string  `json:"date"`
	TotalRevenue float64 `json:"total_revenue"`
	OrderCount   int64   `json:"order_count"`
}

// BalanceResponse reports a customer's current balance.
type BalanceResponse struct {
	CustomerID int64   `json:"customer_id"`
	Balance    float64 `json:"balance"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toOrder(req OrderRequest) order.Order {
	return order.Order{
		ID:         order.OrderID(req.ID),
		CustomerID: order.CustomerID(req.CustomerID),
		Amount:     decimal.NewFromFloat(req.Amount),
		Priority:   req.Priority,
	}
}

func toOrderResponse(out order.Outcome) OrderResponse {
	resp := OrderResponse{
		ID:       int64(out.OrderID),
		Status:   string(out.Status),
		Priority: out.Priority,
		Message:  out.Message,
	}
	if out.NewBalance != nil {
		nb, _ := out.NewBalance.Float64()
		resp.NewBalance = &nb
	}
	return resp
}

func toStatsResponse(stats order.DailyStats) StatsResponse {
	revenue, _ := stats.TotalRevenue.Float64()
	return StatsResponse{
		Date:         stats.Date.Format(time.DateOnly),
		TotalRevenue: revenue,
		OrderCount:   stats.OrderCount,
	}
}
