package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/stream"
)

// StreamHandler serves the long-lived push streams: one per order for
// settlement status changes and one global broadcast channel for
// configuration events. Streams are SSE: text-delimited frames with a
// periodic comment heartbeat shorter than typical intermediary idle
// timeouts.
type StreamHandler struct {
	Hub       *stream.Hub
	Orders    *repository.OrderRepo
	Heartbeat time.Duration
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(hub *stream.Hub, orders *repository.OrderRepo, heartbeat time.Duration) *StreamHandler {
	if hub == nil || orders == nil {
		panic("nil dependency passed to NewStreamHandler")
	}
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &StreamHandler{Hub: hub, Orders: orders, Heartbeat: heartbeat}
}

// OrderStream handles GET /v1/orders/:id/stream. It verifies ownership,
// emits the order's current status as the first frame so the client
// cannot miss a transition that committed before the subscription, then
// relays hub events until the hub discards the subscription or the
// client disconnects.
func (h *StreamHandler) OrderStream(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || orderID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	order, _, err := h.Orders.GetByIDForBuyer(c.Request().Context(), orderID, buyerID)
	if err != nil {
		return domainError(c, err)
	}

	sub := h.Hub.SubscribeOrder(orderID)
	defer h.Hub.UnsubscribeOrder(orderID, sub)

	w := prepareSSE(c)
	if err := writeFrame(w, fmt.Sprintf(`{"order_id":%d,"status":%q}`, order.ID, order.Status)); err != nil {
		return nil
	}
	return h.relay(c, w, sub)
}

// ConfigStream handles GET /v1/stream/config: the flat broadcast channel
// for configuration events.
func (h *StreamHandler) ConfigStream(c echo.Context) error {
	sub := h.Hub.SubscribeGlobal()
	defer h.Hub.UnsubscribeGlobal(sub)

	w := prepareSSE(c)
	return h.relay(c, w, sub)
}

// relay pumps hub events and heartbeats onto the response until the
// subscription ends or the write side fails. A failed write simply
// returns; the deferred unsubscribe removes the dead connection.
func (h *StreamHandler) relay(c echo.Context, w *echo.Response, sub *stream.Subscriber) error {
	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case payload := <-sub.Events():
			if err := writeFrame(w, string(payload)); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := writeHeartbeat(w); err != nil {
				return nil
			}
		case <-sub.Done():
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func prepareSSE(c echo.Context) *echo.Response {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return w
}

func writeFrame(w *echo.Response, data string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// writeHeartbeat emits an SSE comment frame; clients ignore it, but it
// keeps idle-connection timeouts in intermediaries from firing.
func writeHeartbeat(w *echo.Response) error {
	if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
		return err
	}
	w.Flush()
	return nil
}
