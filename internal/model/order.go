package model

import "time"

// Order status values.  PENDING is the only non-terminal pre-payment state;
// PAID advances to WON or LOST when the session is resulted.  A local cancel
// and the expiry sweep both produce EXPIRED (capacity released); CANCELLED is
// reserved for payments the provider reported as failed.
const (
	OrderPending   = "PENDING"
	OrderPaid      = "PAID"
	OrderCancelled = "CANCELLED"
	OrderExpired   = "EXPIRED"
	OrderWon       = "WON"
	OrderLost      = "LOST"
)

// PendingTTL is how long a PENDING order may wait for payment before the
// expiry sweep reclaims its capacity.
const PendingTTL = 5 * time.Minute

// Order is one buyer's reservation against a session's capacity lines.
// Orders are never deleted, only transitioned along the state graph.
//
// Fields:
//
//	ID         – primary key identifier.
//	OrderNo    – random correlation number shared with the payment provider.
//	SessionID  – session the capacity was reserved in.
//	BuyerID    – owning buyer; cancel is rejected for anyone else.
//	TotalCents – sum of all line subtotals.
//	Status     – current state-machine position.
//	TradeNo    – payment-provider reference, set at creation.
//	PayURL     – checkout link handed back to the buyer.
//	ExpiresAt  – deadline after which the sweep may expire a PENDING order.
//	PaidAt     – stamped by the settlement reconciler on success.
type Order struct {
	ID         uint64     // orders.id
	OrderNo    string     // orders.order_no
	SessionID  uint64     // orders.session_id
	BuyerID    uint64     // orders.buyer_id
	TotalCents int64      // orders.total_cents
	Status     string     // orders.status
	TradeNo    string     // orders.trade_no
	PayURL     string     // orders.pay_url
	ExpiresAt  time.Time  // orders.expires_at
	PaidAt     *time.Time // orders.paid_at (nullable)
	CreatedAt  time.Time  // orders.created_at
	UpdatedAt  time.Time  // orders.updated_at
}

// OrderLine is one (animal, quantity, price) position of an order.  The
// animal label is denormalized at creation time for audit and display and
// the row is immutable afterwards.
type OrderLine struct {
	ID             uint64 // order_lines.id
	OrderID        uint64 // order_lines.order_id
	Animal         uint32 // order_lines.animal
	AnimalName     string // order_lines.animal_name
	Quantity       uint32 // order_lines.quantity
	UnitPriceCents int64  // order_lines.unit_price_cents
	SubtotalCents  int64  // order_lines.subtotal_cents
}

// TerminalStatus reports whether no further transition is permitted out of
// the given status.  EXPIRED is terminal for every trigger except a late
// success notification, which the reconciler treats as the one legitimate
// re-reservation path.
func TerminalStatus(status string) bool {
	switch status {
	case OrderCancelled, OrderExpired, OrderWon, OrderLost:
		return true
	}
	return false
}

// CanTransition reports whether the state graph permits moving an order
// from one status to another.  The EXPIRED → PAID edge covers a success
// webhook arriving after local expiry or cancellation.
func CanTransition(from, to string) bool {
	switch from {
	case OrderPending:
		return to == OrderPaid || to == OrderCancelled || to == OrderExpired
	case OrderPaid:
		return to == OrderWon || to == OrderLost
	case OrderExpired:
		return to == OrderPaid
	}
	return false
}
