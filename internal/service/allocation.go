// Package service contains the order allocation and settlement engine.
// Services orchestrate transactions across the repositories and own the
// post-commit side effects (cache invalidation, notification fan-out,
// broker events); repositories never publish and handlers never touch
// rows directly.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/stream"
)

// SessionStore is the slice of the session repository the services need.
type SessionStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Session, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Session, error)
	MarkResultedTx(ctx context.Context, tx *sql.Tx, id uint64, winning uint32) error
}

// Ledger is the capacity-ledger contract. All three mutations run under
// the row locks the implementation takes inside the given transaction.
type Ledger interface {
	ReserveTx(ctx context.Context, tx *sql.Tx, sessionID uint64, lines []repository.ReserveLine) error
	ReleaseTx(ctx context.Context, tx *sql.Tx, sessionID uint64, animal uint32, amountCents int64) error
	ReapplyTx(ctx context.Context, tx *sql.Tx, sessionID uint64, animal uint32, amountCents int64) error
}

// OrderStore is the slice of the order repository the services need.
type OrderStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error
	CreateLinesBulkTx(ctx context.Context, tx *sql.Tx, lines []model.OrderLine) error
	SetPaymentTx(ctx context.Context, tx *sql.Tx, orderID uint64, tradeNo, payURL string) error
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, orderID uint64) (*model.Order, error)
	GetByTradeNoForUpdateTx(ctx context.Context, tx *sql.Tx, tradeNo string) (*model.Order, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, orderID uint64, status string) error
	MarkPaidTx(ctx context.Context, tx *sql.Tx, orderID uint64, paidAt time.Time) error
	LinesTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]model.OrderLine, error)
	ListExpiredPendingIDs(ctx context.Context, limit int) ([]uint64, error)
	ListPaidIDsBySessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) ([]uint64, error)
	HasAnimalTx(ctx context.Context, tx *sql.Tx, orderID uint64, animal uint32) (bool, error)
}

// Invalidator deletes a session's cached capacity view. Implemented by
// the capacity cache; called synchronously after every ledger mutation
// commits.
type Invalidator interface {
	Invalidate(ctx context.Context, sessionID uint64)
}

// Notifier is the per-order fan-out contract, implemented by stream.Hub.
type Notifier interface {
	PublishOrder(orderID uint64, status string)
	PublishConfig(ev stream.ConfigEvent)
}

// OrderItem is one requested position of a buy call.
type OrderItem struct {
	Animal         uint32 `json:"animal"`
	Quantity       uint32 `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// AllocationService orchestrates a single buy request: it obtains the
// payment link, then locks and mutates the capacity ledger and creates
// the order with its lines in one transaction. A failure after the link
// was issued rolls the transaction back and cancels the link.
type AllocationService struct {
	DB       *sql.DB
	Sessions SessionStore
	Ledger   Ledger
	Orders   OrderStore
	Provider payment.Provider
	Cache    Invalidator
}

// CreateOrder reserves capacity for the requested items and creates a
// PENDING order with a five-minute payment deadline. The payment link is
// requested before the transaction opens, so no ledger row lock is ever
// held across the provider call; when the local side then fails, the
// already issued link is cancelled best-effort and the transaction rolls
// back in full.
func (s *AllocationService) CreateOrder(ctx context.Context, sessionID, buyerID uint64, items []OrderItem) (*model.Order, []model.OrderLine, error) {
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("%w: order has no items", repository.ErrInvalidState)
	}
	reserve := make([]repository.ReserveLine, 0, len(items))
	lines := make([]model.OrderLine, 0, len(items))
	var total int64
	for _, it := range items {
		if !model.ValidOrdinal(it.Animal) {
			return nil, nil, repository.ErrCapacityNotFound
		}
		if it.Quantity == 0 || it.UnitPriceCents <= 0 {
			return nil, nil, fmt.Errorf("%w: invalid quantity or price", repository.ErrInvalidState)
		}
		subtotal := int64(it.Quantity) * it.UnitPriceCents
		total += subtotal
		reserve = append(reserve, repository.ReserveLine{Animal: it.Animal, AmountCents: subtotal})
		lines = append(lines, model.OrderLine{
			Animal:         it.Animal,
			AnimalName:     model.AnimalName(it.Animal),
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			SubtotalCents:  subtotal,
		})
	}

	sess, err := s.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != model.SessionOpen {
		return nil, nil, fmt.Errorf("%w: session is not open", repository.ErrInvalidState)
	}

	orderNo, err := repository.NewOrderNo()
	if err != nil {
		return nil, nil, err
	}

	subject := fmt.Sprintf("animal market session %d", sessionID)
	link, err := s.Provider.CreateLink(ctx, orderNo, total, subject)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		s.cancelLink(ctx, link.TradeNo)
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
			s.cancelLink(ctx, link.TradeNo)
		}
	}()

	if err := s.Ledger.ReserveTx(ctx, tx, sessionID, reserve); err != nil {
		return nil, nil, err
	}

	order := &model.Order{
		OrderNo:    orderNo,
		SessionID:  sessionID,
		BuyerID:    buyerID,
		TotalCents: total,
		Status:     model.OrderPending,
		ExpiresAt:  time.Now().UTC().Add(model.PendingTTL),
	}
	if err := s.Orders.CreateTx(ctx, tx, order); err != nil {
		return nil, nil, err
	}
	for i := range lines {
		lines[i].OrderID = order.ID
	}
	if err := s.Orders.CreateLinesBulkTx(ctx, tx, lines); err != nil {
		return nil, nil, err
	}

	if err := s.Orders.SetPaymentTx(ctx, tx, order.ID, link.TradeNo, link.PayURL); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true
	order.TradeNo = link.TradeNo
	order.PayURL = link.PayURL

	s.Cache.Invalidate(ctx, sessionID)
	return order, lines, nil
}

// cancelLink invalidates a checkout link whose reservation never came to
// exist. Best-effort: the link dies with the payment deadline anyway, so
// a provider failure here is only logged.
func (s *AllocationService) cancelLink(ctx context.Context, tradeNo string) {
	if err := s.Provider.CancelLink(ctx, tradeNo); err != nil {
		log.Printf("allocation: cancel link %s: %v", tradeNo, err)
	}
}
