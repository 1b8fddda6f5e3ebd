package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/service"
)

// OrderHandler exposes the buyer-facing order operations: create, cancel
// and the thin reads. All methods assume JWT authentication has already
// run; the buyer is taken from the request context, never from the body.
type OrderHandler struct {
	Alloc      *service.AllocationService
	Settlement *service.SettlementService
	Orders     *repository.OrderRepo
}

// NewOrderHandler constructs an OrderHandler with its services.
func NewOrderHandler(alloc *service.AllocationService, settlement *service.SettlementService, orders *repository.OrderRepo) *OrderHandler {
	if alloc == nil || settlement == nil || orders == nil {
		panic("nil dependency passed to NewOrderHandler")
	}
	return &OrderHandler{Alloc: alloc, Settlement: settlement, Orders: orders}
}

// Create handles POST /v1/orders. The body names the session and the
// items to buy; the response carries the order, its total and the
// checkout link the buyer is redirected to.
func (h *OrderHandler) Create(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SessionID uint64              `json:"session_id"`
		Items     []service.OrderItem `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == 0 || len(body.Items) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and items are required"})
	}
	order, lines, err := h.Alloc.CreateOrder(c.Request().Context(), body.SessionID, buyerID, body.Items)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"order": orderView(order, lines),
	})
}

// Cancel handles DELETE /v1/orders/:id. Only the owning buyer may cancel
// and only while the order is still PENDING.
func (h *OrderHandler) Cancel(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || orderID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	if err := h.Settlement.Cancel(c.Request().Context(), orderID, buyerID); err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": model.OrderExpired})
}

// List handles GET /v1/my-orders and returns all of the buyer's orders,
// newest first, with lines populated.
func (h *OrderHandler) List(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orders, linesByOrder, err := h.Orders.ListByBuyer(c.Request().Context(), buyerID)
	if err != nil {
		return domainError(c, err)
	}
	items := make([]echo.Map, 0, len(orders))
	for i := range orders {
		items = append(items, orderView(&orders[i], linesByOrder[orders[i].ID]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get handles GET /v1/orders/:id for the owning buyer.
func (h *OrderHandler) Get(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || orderID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	order, lines, err := h.Orders.GetByIDForBuyer(c.Request().Context(), orderID, buyerID)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": orderView(order, lines)})
}

func orderView(o *model.Order, lines []model.OrderLine) echo.Map {
	lv := make([]echo.Map, 0, len(lines))
	for _, l := range lines {
		lv = append(lv, echo.Map{
			"animal":           l.Animal,
			"animal_name":      l.AnimalName,
			"quantity":         l.Quantity,
			"unit_price_cents": l.UnitPriceCents,
			"subtotal_cents":   l.SubtotalCents,
		})
	}
	v := echo.Map{
		"id":          o.ID,
		"order_no":    o.OrderNo,
		"session_id":  o.SessionID,
		"total_cents": o.TotalCents,
		"status":      o.Status,
		"trade_no":    o.TradeNo,
		"pay_url":     o.PayURL,
		"expires_at":  o.ExpiresAt.UTC().Format(time.RFC3339),
		"created_at":  o.CreatedAt.UTC().Format(time.RFC3339),
		"lines":       lv,
	}
	if o.PaidAt != nil {
		v["paid_at"] = o.PaidAt.Format(time.RFC3339)
	}
	return v
}
