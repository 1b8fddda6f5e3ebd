// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderSettledEvent is published whenever an order settles as PAID,
// CANCELLED or EXPIRED. It carries enough
// information for downstream consumers to log or trigger analytics
// without querying the primary database.
type OrderSettledEvent struct {
	OrderID    uint64 `json:"order_id"`
	OrderNo    string `json:"order_no"`
	SessionID  uint64 `json:"session_id"`
	BuyerID    uint64 `json:"buyer_id"`
	Status     string `json:"status"`
	TotalCents int64  `json:"total_cents"`
	TradeNo    string `json:"trade_no,omitempty"`
	SettledAt  string `json:"settled_at"`
}
