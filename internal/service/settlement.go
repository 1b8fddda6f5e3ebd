package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/queue"
	"github.com/iliyamo/animal-market/internal/repository"
)

// SettlementService reconciles local order state with the payment
// provider's asynchronous notifications and with the local triggers that
// race against them: the owner's cancel and the time-based expiry sweep.
// Every trigger takes the order's row lock before branching on the
// current status, which is what prevents double-release and lost-update
// races; whichever trigger locks first observes the true status and the
// others become no-ops once they see a terminal state.
type SettlementService struct {
	DB       *sql.DB
	Sessions SessionStore
	Ledger   Ledger
	Orders   OrderStore
	Provider payment.Provider
	Cache    Invalidator
	Hub      Notifier

	// PublishSettled emits the best-effort broker audit event. Defaults
	// to queue.PublishOrderSettled; tests swap it out.
	PublishSettled func(ctx context.Context, ev queue.OrderSettledEvent) error
}

// Settle is the idempotent webhook entry point. The caller has already
// verified the payload signature; tradeNo is the provider's reference and
// success its result code. The method never fails for retried or
// irrelevant notifications: an unknown reference and an already settled
// order both acknowledge without effect, so provider retries converge.
func (s *SettlementService) Settle(ctx context.Context, tradeNo string, success bool, paidAt time.Time) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	o, err := s.Orders.GetByTradeNoForUpdateTx(ctx, tx, tradeNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// Already irrelevant; acknowledging keeps the provider from
			// retrying forever.
			return nil
		}
		return err
	}

	var next string
	switch {
	case success:
		if !model.CanTransition(o.Status, model.OrderPaid) {
			// Already processed (or contradicted by an earlier failure
			// notification); acknowledge without effect.
			return nil
		}
		if o.Status == model.OrderExpired {
			// Late success: the capacity was released locally, so
			// re-apply the reservation from the row-locked read. The
			// buyer already paid; this is the one path allowed to push
			// sold past the limit.
			lines, err := s.Orders.LinesTx(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			for _, l := range lines {
				if err := s.Ledger.ReapplyTx(ctx, tx, o.SessionID, l.Animal, l.SubtotalCents); err != nil {
					return err
				}
			}
		}
		if err := s.Orders.MarkPaidTx(ctx, tx, o.ID, paidAt); err != nil {
			return err
		}
		next = model.OrderPaid
	default:
		if !model.CanTransition(o.Status, model.OrderCancelled) {
			// Failure for anything but a pending order carries no new
			// information.
			return nil
		}
		if err := s.transitionAndRelease(ctx, tx, o, model.OrderCancelled); err != nil {
			return err
		}
		next = model.OrderCancelled
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	// Side effects strictly after commit so subscribers never observe a
	// rolled-back state.
	s.afterSettle(ctx, o, next)
	return nil
}

// Cancel expires a PENDING order on the owner's request: the status
// flips to EXPIRED and the reserved capacity is released, all under the
// order's row lock. The payment link is invalidated best-effort after
// commit; a provider failure is logged and swallowed because the local
// cancellation must still stand.
func (s *SettlementService) Cancel(ctx context.Context, orderID, buyerID uint64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	o, err := s.Orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if o.BuyerID != buyerID {
		return repository.ErrForbidden
	}
	if o.Status != model.OrderPending {
		return fmt.Errorf("%w: order is %s", repository.ErrInvalidState, o.Status)
	}
	if err := s.transitionAndRelease(ctx, tx, o, model.OrderExpired); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	if o.TradeNo != "" {
		if err := s.Provider.CancelLink(ctx, o.TradeNo); err != nil {
			log.Printf("settlement: cancel link %s: %v", o.TradeNo, err)
		}
	}
	s.afterSettle(ctx, o, model.OrderExpired)
	return nil
}

// ExpireOverdue is the sweep body: it expires every PENDING order whose
// deadline has passed, one order per transaction through the identical
// lock-then-check-then-transition path as Cancel. It returns how many
// orders it expired.
func (s *SettlementService) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := s.Orders.ListExpiredPendingIDs(ctx, 200)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		ok, err := s.expireOne(ctx, id)
		if err != nil {
			log.Printf("settlement: expire order %d: %v", id, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *SettlementService) expireOne(ctx context.Context, orderID uint64) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	o, err := s.Orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return false, nil
		}
		return false, err
	}
	// A webhook or cancel may have won the race between the sweep's read
	// and this lock; the locked status is the truth.
	if o.Status != model.OrderPending || o.ExpiresAt.After(time.Now().UTC()) {
		return false, nil
	}
	if err := s.transitionAndRelease(ctx, tx, o, model.OrderExpired); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true

	s.afterSettle(ctx, o, model.OrderExpired)
	return true, nil
}

// ResolveSession marks a session RESULTED with the winning animal and
// assigns WON or LOST to every PAID order, depending on whether the
// order holds a line on the winner. The session row lock serializes
// concurrent resolve calls; a second call sees RESULTED and is rejected.
func (s *SettlementService) ResolveSession(ctx context.Context, sessionID uint64, winning uint32) (won, lost int, err error) {
	if !model.ValidOrdinal(winning) {
		return 0, 0, repository.ErrCapacityNotFound
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	sess, err := s.Sessions.GetForUpdateTx(ctx, tx, sessionID)
	if err != nil {
		return 0, 0, err
	}
	if sess.Status == model.SessionResulted {
		return 0, 0, fmt.Errorf("%w: session already resulted", repository.ErrInvalidState)
	}
	if err := s.Sessions.MarkResultedTx(ctx, tx, sessionID, winning); err != nil {
		return 0, 0, err
	}

	ids, err := s.Orders.ListPaidIDsBySessionTx(ctx, tx, sessionID)
	if err != nil {
		return 0, 0, err
	}
	statuses := make(map[uint64]string, len(ids))
	for _, id := range ids {
		has, err := s.Orders.HasAnimalTx(ctx, tx, id, winning)
		if err != nil {
			return 0, 0, err
		}
		next := model.OrderLost
		if has {
			next = model.OrderWon
			won++
		} else {
			lost++
		}
		if err := s.Orders.UpdateStatusTx(ctx, tx, id, next); err != nil {
			return 0, 0, err
		}
		statuses[id] = next
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	committed = true

	s.Cache.Invalidate(ctx, sessionID)
	for id, status := range statuses {
		s.Hub.PublishOrder(id, status)
	}
	return won, lost, nil
}

// transitionAndRelease moves a non-terminal order to a released status
// and returns its capacity to the ledger line by line. Release is floored
// at zero in the ledger, so even a double invocation cannot drive sold
// negative.
func (s *SettlementService) transitionAndRelease(ctx context.Context, tx *sql.Tx, o *model.Order, next string) error {
	if !model.CanTransition(o.Status, next) {
		return fmt.Errorf("%w: %s cannot become %s", repository.ErrInvalidState, o.Status, next)
	}
	if err := s.Orders.UpdateStatusTx(ctx, tx, o.ID, next); err != nil {
		return err
	}
	lines, err := s.Orders.LinesTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if err := s.Ledger.ReleaseTx(ctx, tx, o.SessionID, l.Animal, l.SubtotalCents); err != nil {
			return err
		}
	}
	return nil
}

// afterSettle runs the post-commit side effects for a settled order:
// cache invalidation, fan-out publish, broker audit event. All are
// best-effort and never roll anything back.
func (s *SettlementService) afterSettle(ctx context.Context, o *model.Order, status string) {
	s.Cache.Invalidate(ctx, o.SessionID)
	s.Hub.PublishOrder(o.ID, status)
	publish := s.PublishSettled
	if publish == nil {
		publish = queue.PublishOrderSettled
	}
	if err := publish(ctx, queue.OrderSettledEvent{
		OrderID:    o.ID,
		OrderNo:    o.OrderNo,
		SessionID:  o.SessionID,
		BuyerID:    o.BuyerID,
		Status:     status,
		TotalCents: o.TotalCents,
		TradeNo:    o.TradeNo,
		SettledAt:  time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("settlement: publish settled event for order %d: %v", o.ID, err)
	}
}
