package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/stream"
)

// In-memory fakes for the store interfaces. The services drive all SQL
// through these, so the sqlmock database only has to satisfy the
// BeginTx/Commit/Rollback plumbing.

type fakeSessions struct {
	sessions map[uint64]*model.Session
	resulted []uint64
}

func newFakeSessions(ss ...*model.Session) *fakeSessions {
	f := &fakeSessions{sessions: make(map[uint64]*model.Session)}
	for _, s := range ss {
		f.sessions[s.ID] = s
	}
	return f
}

func (f *fakeSessions) GetByID(_ context.Context, id uint64) (*model.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) GetForUpdateTx(_ context.Context, _ *sql.Tx, id uint64) (*model.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) MarkResultedTx(_ context.Context, _ *sql.Tx, id uint64, winning uint32) error {
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.Status = model.SessionResulted
	s.WinningAnimal = &winning
	f.resulted = append(f.resulted, id)
	return nil
}

type ledgerCall struct {
	op          string // "reserve", "release", "reapply"
	sessionID   uint64
	animal      uint32
	amountCents int64
}

type fakeLedger struct {
	calls      []ledgerCall
	reserveErr error
}

func (f *fakeLedger) ReserveTx(_ context.Context, _ *sql.Tx, sessionID uint64, lines []repository.ReserveLine) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	for _, ln := range lines {
		f.calls = append(f.calls, ledgerCall{"reserve", sessionID, ln.Animal, ln.AmountCents})
	}
	return nil
}

func (f *fakeLedger) ReleaseTx(_ context.Context, _ *sql.Tx, sessionID uint64, animal uint32, amountCents int64) error {
	f.calls = append(f.calls, ledgerCall{"release", sessionID, animal, amountCents})
	return nil
}

func (f *fakeLedger) ReapplyTx(_ context.Context, _ *sql.Tx, sessionID uint64, animal uint32, amountCents int64) error {
	f.calls = append(f.calls, ledgerCall{"reapply", sessionID, animal, amountCents})
	return nil
}

func (f *fakeLedger) ops(op string) []ledgerCall {
	var out []ledgerCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeOrders struct {
	nextID  uint64
	orders  map[uint64]*model.Order
	lines   map[uint64][]model.OrderLine
	payment map[uint64][2]string // orderID -> trade_no, pay_url
}

func newFakeOrders(orders ...*model.Order) *fakeOrders {
	f := &fakeOrders{
		nextID:  100,
		orders:  make(map[uint64]*model.Order),
		lines:   make(map[uint64][]model.OrderLine),
		payment: make(map[uint64][2]string),
	}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) setLines(orderID uint64, lines ...model.OrderLine) {
	f.lines[orderID] = lines
}

func (f *fakeOrders) CreateTx(_ context.Context, _ *sql.Tx, o *model.Order) error {
	f.nextID++
	o.ID = f.nextID
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeOrders) CreateLinesBulkTx(_ context.Context, _ *sql.Tx, lines []model.OrderLine) error {
	for _, l := range lines {
		f.lines[l.OrderID] = append(f.lines[l.OrderID], l)
	}
	return nil
}

func (f *fakeOrders) SetPaymentTx(_ context.Context, _ *sql.Tx, orderID uint64, tradeNo, payURL string) error {
	f.payment[orderID] = [2]string{tradeNo, payURL}
	if o, ok := f.orders[orderID]; ok {
		o.TradeNo = tradeNo
		o.PayURL = payURL
	}
	return nil
}

func (f *fakeOrders) GetForUpdateTx(_ context.Context, _ *sql.Tx, orderID uint64) (*model.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByTradeNoForUpdateTx(_ context.Context, _ *sql.Tx, tradeNo string) (*model.Order, error) {
	for _, o := range f.orders {
		if o.TradeNo == tradeNo {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (f *fakeOrders) UpdateStatusTx(_ context.Context, _ *sql.Tx, orderID uint64, status string) error {
	o, ok := f.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (f *fakeOrders) MarkPaidTx(_ context.Context, _ *sql.Tx, orderID uint64, paidAt time.Time) error {
	o, ok := f.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = model.OrderPaid
	t := paidAt.UTC()
	o.PaidAt = &t
	return nil
}

func (f *fakeOrders) LinesTx(_ context.Context, _ *sql.Tx, orderID uint64) ([]model.OrderLine, error) {
	return f.lines[orderID], nil
}

func (f *fakeOrders) ListExpiredPendingIDs(_ context.Context, limit int) ([]uint64, error) {
	var ids []uint64
	now := time.Now().UTC()
	for id, o := range f.orders {
		if o.Status == model.OrderPending && !o.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeOrders) ListPaidIDsBySessionTx(_ context.Context, _ *sql.Tx, sessionID uint64) ([]uint64, error) {
	var ids []uint64
	for id, o := range f.orders {
		if o.SessionID == sessionID && o.Status == model.OrderPaid {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeOrders) HasAnimalTx(_ context.Context, _ *sql.Tx, orderID uint64, animal uint32) (bool, error) {
	for _, l := range f.lines[orderID] {
		if l.Animal == animal {
			return true, nil
		}
	}
	return false, nil
}

type fakeCache struct {
	invalidated []uint64
}

func (f *fakeCache) Invalidate(_ context.Context, sessionID uint64) {
	f.invalidated = append(f.invalidated, sessionID)
}

type hubEvent struct {
	orderID uint64
	status  string
}

type fakeHub struct {
	orderEvents  []hubEvent
	configEvents []stream.ConfigEvent
}

func (f *fakeHub) PublishOrder(orderID uint64, status string) {
	f.orderEvents = append(f.orderEvents, hubEvent{orderID, status})
}

func (f *fakeHub) PublishConfig(ev stream.ConfigEvent) {
	f.configEvents = append(f.configEvents, ev)
}

type fakeProvider struct {
	link        payment.Link
	createErr   error
	createCalls []string // order numbers
	cancelCalls []string // trade numbers
	cancelErr   error
}

func (f *fakeProvider) CreateLink(_ context.Context, orderNo string, amountCents int64, _ string) (payment.Link, error) {
	f.createCalls = append(f.createCalls, orderNo)
	if f.createErr != nil {
		return payment.Link{}, f.createErr
	}
	if f.link.TradeNo == "" {
		return payment.Link{TradeNo: "T-" + orderNo, PayURL: fmt.Sprintf("https://pay.test/%s/%d", orderNo, amountCents)}, nil
	}
	return f.link, nil
}

func (f *fakeProvider) CancelLink(_ context.Context, tradeNo string) error {
	f.cancelCalls = append(f.cancelCalls, tradeNo)
	return f.cancelErr
}
