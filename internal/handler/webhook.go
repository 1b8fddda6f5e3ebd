package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/service"
)

// resultSuccess is the provider's result code for a completed payment;
// anything else is treated as failure/cancellation.
const resultSuccess = "SUCCESS"

// WebhookHandler receives the payment provider's asynchronous settlement
// notifications. Per the provider's idempotency expectations the handler
// acknowledges with {"success":true} for everything it has handled or
// can safely ignore; only a bad signature is rejected outright, and an
// internal failure returns an opaque error so the provider retries.
type WebhookHandler struct {
	Settlement *service.SettlementService
	Secret     string
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(settlement *service.SettlementService, secret string) *WebhookHandler {
	if settlement == nil {
		panic("nil settlement service passed to NewWebhookHandler")
	}
	return &WebhookHandler{Settlement: settlement, Secret: secret}
}

// Notify handles POST /v1/payment/notify. The payload is form-encoded
// with a sign parameter computed over the canonical sorted-parameter
// serialization; field order on the wire does not matter.
func (h *WebhookHandler) Notify(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false})
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}

	if err := payment.Verify(params, h.Secret); err != nil {
		log.Printf("webhook: rejected notification for trade_no=%q: %v", params["trade_no"], err)
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "invalid signature"})
	}

	tradeNo := params["trade_no"]
	if tradeNo == "" {
		// Nothing to correlate on; acknowledge so the provider stops
		// retrying a payload we can never use.
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}
	success := params["result"] == resultSuccess
	paidAt := time.Now().UTC()
	if ts := params["paid_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			paidAt = t.UTC()
		}
	}

	if err := h.Settlement.Settle(c.Request().Context(), tradeNo, success, paidAt); err != nil {
		log.Printf("webhook: settle trade_no=%s: %v", tradeNo, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
