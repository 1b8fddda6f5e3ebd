package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/queue"
	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/service"
)

const webhookSecret = "hook-secret"

// stubOrders satisfies service.OrderStore; every lookup misses so Settle
// takes the unknown-reference path.
type stubOrders struct{}

func (stubOrders) CreateTx(context.Context, *sql.Tx, *model.Order) error { return nil }
func (stubOrders) CreateLinesBulkTx(context.Context, *sql.Tx, []model.OrderLine) error {
	return nil
}
func (stubOrders) SetPaymentTx(context.Context, *sql.Tx, uint64, string, string) error {
	return nil
}
func (stubOrders) GetForUpdateTx(context.Context, *sql.Tx, uint64) (*model.Order, error) {
	return nil, repository.ErrOrderNotFound
}
func (stubOrders) GetByTradeNoForUpdateTx(context.Context, *sql.Tx, string) (*model.Order, error) {
	return nil, repository.ErrOrderNotFound
}
func (stubOrders) UpdateStatusTx(context.Context, *sql.Tx, uint64, string) error { return nil }
func (stubOrders) MarkPaidTx(context.Context, *sql.Tx, uint64, time.Time) error { return nil }
func (stubOrders) LinesTx(context.Context, *sql.Tx, uint64) ([]model.OrderLine, error) {
	return nil, nil
}
func (stubOrders) ListExpiredPendingIDs(context.Context, int) ([]uint64, error) { return nil, nil }
func (stubOrders) ListPaidIDsBySessionTx(context.Context, *sql.Tx, uint64) ([]uint64, error) {
	return nil, nil
}
func (stubOrders) HasAnimalTx(context.Context, *sql.Tx, uint64, uint32) (bool, error) {
	return false, nil
}

func postNotify(t *testing.T, h *WebhookHandler, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/payment/notify", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	require.NoError(t, h.Notify(c))
	return rec
}

func newWebhookHandler(t *testing.T) (*WebhookHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	settlement := &service.SettlementService{
		DB:     db,
		Orders: stubOrders{},
		PublishSettled: func(context.Context, queue.OrderSettledEvent) error {
			return nil
		},
	}
	return NewWebhookHandler(settlement, webhookSecret), mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func TestNotifyRejectsBadSignature(t *testing.T) {
	h, _, done := newWebhookHandler(t)
	defer done()

	rec := postNotify(t, h, map[string]string{
		"trade_no": "T-1",
		"result":   "SUCCESS",
		"sign":     "deadbeef",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestNotifyRejectsMissingSignature(t *testing.T) {
	h, _, done := newWebhookHandler(t)
	defer done()

	rec := postNotify(t, h, map[string]string{"trade_no": "T-1", "result": "SUCCESS"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotifyAcksPayloadWithoutTradeNo(t *testing.T) {
	h, _, done := newWebhookHandler(t)
	defer done()

	params := map[string]string{"result": "SUCCESS"}
	params["sign"] = payment.Sign(params, webhookSecret)
	rec := postNotify(t, h, params)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestNotifyAcksUnknownTradeNo(t *testing.T) {
	h, mock, done := newWebhookHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectRollback()

	params := map[string]string{"trade_no": "T-unknown", "result": "SUCCESS", "paid_at": "2026-08-29T10:00:00Z"}
	params["sign"] = payment.Sign(params, webhookSecret)
	rec := postNotify(t, h, params)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestNotifySignatureIsOrderIndependent(t *testing.T) {
	h, mock, done := newWebhookHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectRollback()

	// Sign over one logical payload; the form encoder will emit fields in
	// its own order, which must not matter.
	params := map[string]string{
		"result":   "FAILED",
		"trade_no": "T-unknown",
		"reason":   "card declined",
	}
	params["sign"] = payment.Sign(params, webhookSecret)
	rec := postNotify(t, h, params)
	assert.Equal(t, http.StatusOK, rec.Code)
}
