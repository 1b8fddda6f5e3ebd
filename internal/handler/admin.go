package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/cache"
	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/service"
	"github.com/iliyamo/animal-market/internal/stream"
)

// AdminHandler exposes the operator surface: resulting a session and
// toggling the ban flag on capacity lines. Routes are guarded by the
// ADMIN role upstream.
type AdminHandler struct {
	Settlement *service.SettlementService
	Capacity   *repository.CapacityRepo
	Cache      *cache.CapacityCache
	Hub        *stream.Hub
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(settlement *service.SettlementService, capacity *repository.CapacityRepo, cc *cache.CapacityCache, hub *stream.Hub) *AdminHandler {
	if settlement == nil || capacity == nil || cc == nil || hub == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Settlement: settlement, Capacity: capacity, Cache: cc, Hub: hub}
}

// ResolveSession handles POST /v1/admin/sessions/:id/resolve. The body
// names the winning animal; every PAID order of the session is assigned
// WON or LOST and its subscribers are notified.
func (h *AdminHandler) ResolveSession(c echo.Context) error {
	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || sessionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	var body struct {
		WinningAnimal uint32 `json:"winning_animal"`
	}
	if err := c.Bind(&body); err != nil || !model.ValidOrdinal(body.WinningAnimal) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "winning_animal is required"})
	}
	won, lost, err := h.Settlement.ResolveSession(c.Request().Context(), sessionID, body.WinningAnimal)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"session_id":     sessionID,
		"winning_animal": body.WinningAnimal,
		"won":            won,
		"lost":           lost,
	})
}

// SetBan handles POST /v1/admin/capacity/ban. It flips the ban flag on
// one (session, animal) line, invalidates the session's cached snapshot
// and broadcasts a configuration event on the global stream.
func (h *AdminHandler) SetBan(c echo.Context) error {
	var body struct {
		SessionID uint64 `json:"session_id"`
		Animal    uint32 `json:"animal"`
		Banned    bool   `json:"banned"`
		Reason    string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == 0 || !model.ValidOrdinal(body.Animal) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and animal are required"})
	}
	ctx := c.Request().Context()
	if err := h.Capacity.SetBan(ctx, body.SessionID, body.Animal, body.Banned, body.Reason); err != nil {
		return domainError(c, err)
	}
	h.Cache.Invalidate(ctx, body.SessionID)
	h.Hub.PublishConfig(stream.ConfigEvent{
		Kind:      "capacity_ban",
		SessionID: body.SessionID,
		Animal:    body.Animal,
		Banned:    body.Banned,
		Reason:    body.Reason,
	})
	return c.JSON(http.StatusOK, echo.Map{"updated": true})
}
