package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/animal-market/internal/model"
)

func newOrderMock(t *testing.T) (sqlmock.Sqlmock, *OrderRepo, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return mock, NewOrderRepo(db), func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func TestNewOrderNo(t *testing.T) {
	a, err := NewOrderNo()
	require.NoError(t, err)
	b, err := NewOrderNo()
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func orderRows(o model.Order) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "order_no", "session_id", "buyer_id", "total_cents", "status",
		"trade_no", "pay_url", "expires_at", "paid_at", "created_at", "updated_at",
	}).AddRow(o.ID, o.OrderNo, o.SessionID, o.BuyerID, o.TotalCents, o.Status,
		o.TradeNo, o.PayURL, now.Add(5*time.Minute), nil, now, now)
}

func TestCreateTxPopulatesIDAndTimestamps(t *testing.T) {
	mock, repo, done := newOrderMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("abc123", uint64(2), uint64(9), int64(60_000), model.OrderPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(77, 1))
	mock.ExpectQuery(`SELECT created_at, updated_at FROM orders`).
		WithArgs(uint64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	tx, err := repo.db.Begin()
	require.NoError(t, err)
	o := &model.Order{
		OrderNo:    "abc123",
		SessionID:  2,
		BuyerID:    9,
		TotalCents: 60_000,
		Status:     model.OrderPending,
		ExpiresAt:  now.Add(model.PendingTTL),
	}
	require.NoError(t, repo.CreateTx(context.Background(), tx, o))
	assert.Equal(t, uint64(77), o.ID)
	assert.False(t, o.CreatedAt.IsZero())
	require.NoError(t, tx.Commit())
}

func TestCreateLinesBulkTx(t *testing.T) {
	mock, repo, done := newOrderMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO order_lines .+VALUES \(\?, \?, \?, \?, \?, \?\),\(\?, \?, \?, \?, \?, \?\)`).
		WithArgs(
			uint64(77), uint32(2), "ox", uint32(1), int64(1000), int64(1000),
			uint64(77), uint32(7), "horse", uint32(2), int64(500), int64(1000),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := repo.db.Begin()
	require.NoError(t, err)
	lines := []model.OrderLine{
		{OrderID: 77, Animal: 2, AnimalName: "ox", Quantity: 1, UnitPriceCents: 1000, SubtotalCents: 1000},
		{OrderID: 77, Animal: 7, AnimalName: "horse", Quantity: 2, UnitPriceCents: 500, SubtotalCents: 1000},
	}
	require.NoError(t, repo.CreateLinesBulkTx(context.Background(), tx, lines))
	require.NoError(t, tx.Commit())

	// Empty slice is a no-op.
	require.NoError(t, repo.CreateLinesBulkTx(context.Background(), nil, nil))
}

func TestGetByTradeNoForUpdateTxNotFound(t *testing.T) {
	mock, repo, done := newOrderMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE trade_no = \? FOR UPDATE`).
		WithArgs("T-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	tx, err := repo.db.Begin()
	require.NoError(t, err)
	_, err = repo.GetByTradeNoForUpdateTx(context.Background(), tx, "T-unknown")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	require.NoError(t, tx.Rollback())
}

func TestGetByIDForBuyerEnforcesOwnership(t *testing.T) {
	mock, repo, done := newOrderMock(t)
	defer done()

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \?`).
		WithArgs(uint64(77)).
		WillReturnRows(orderRows(model.Order{ID: 77, OrderNo: "abc", SessionID: 2, BuyerID: 9, TotalCents: 1000, Status: model.OrderPending}))

	_, _, err := repo.GetByIDForBuyer(context.Background(), 77, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHasAnimalTx(t *testing.T) {
	mock, repo, done := newOrderMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(uint64(77), uint32(5)).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))
	mock.ExpectCommit()

	tx, err := repo.db.Begin()
	require.NoError(t, err)
	ok, err := repo.HasAnimalTx(context.Background(), tx, 77, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())
}

func TestListExpiredPendingIDs(t *testing.T) {
	mock, repo, done := newOrderMock(t)
	defer done()

	mock.ExpectQuery(`SELECT id FROM orders WHERE status = \? AND expires_at <= UTC_TIMESTAMP\(\)`).
		WithArgs(model.OrderPending, 200).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(8))

	ids, err := repo.ListExpiredPendingIDs(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 8}, ids)
}
