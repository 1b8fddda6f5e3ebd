package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/cache"
	"github.com/iliyamo/animal-market/internal/model"
	"github.com/iliyamo/animal-market/internal/repository"
)

// SessionHandler serves the session/capacity read side: the lazily
// created current session and the cached capacity snapshot. These reads
// are the hot path during a buy storm, hence the read-through cache.
type SessionHandler struct {
	Sessions         *repository.SessionRepo
	Capacity         *repository.CapacityRepo
	Cache            *cache.CapacityCache
	DefaultScopeID   uint64
	AnimalLimitCents int64
}

// NewSessionHandler constructs a SessionHandler with its dependencies.
func NewSessionHandler(sessions *repository.SessionRepo, capacity *repository.CapacityRepo, cc *cache.CapacityCache, defaultScope uint64, limitCents int64) *SessionHandler {
	if sessions == nil || capacity == nil || cc == nil {
		panic("nil dependency passed to NewSessionHandler")
	}
	return &SessionHandler{
		Sessions:         sessions,
		Capacity:         capacity,
		Cache:            cc,
		DefaultScopeID:   defaultScope,
		AnimalLimitCents: limitCents,
	}
}

// GetCurrent handles GET /v1/sessions/current. It resolves the active
// (scope, date, round) window, creating the session and its capacity
// lines on first read, and returns the session with its capacity
// snapshot. The optional ?scope= query selects a catalog scope.
func (h *SessionHandler) GetCurrent(c echo.Context) error {
	scopeID := h.DefaultScopeID
	if s := c.QueryParam("scope"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || n == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid scope"})
		}
		scopeID = n
	}
	ctx := c.Request().Context()
	sess, err := h.Sessions.EnsureCurrent(ctx, scopeID, time.Now(), h.AnimalLimitCents)
	if err != nil {
		return domainError(c, err)
	}
	snap, err := h.snapshot(ctx, sess.ID)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"session":  sessionView(sess),
		"capacity": snap,
	})
}

// GetCapacity handles GET /v1/sessions/:id/capacity and returns the
// cached capacity snapshot for a specific session.
func (h *SessionHandler) GetCapacity(c echo.Context) error {
	sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || sessionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Sessions.GetByID(ctx, sessionID); err != nil {
		return domainError(c, err)
	}
	snap, err := h.snapshot(ctx, sessionID)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"capacity": snap})
}

// snapshot is the read-through: cached view when fresh, ledger otherwise.
func (h *SessionHandler) snapshot(ctx context.Context, sessionID uint64) (*cache.Snapshot, error) {
	if snap, ok := h.Cache.Get(ctx, sessionID); ok {
		return snap, nil
	}
	lines, err := h.Capacity.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := cache.BuildSnapshot(sessionID, lines)
	h.Cache.Set(ctx, snap)
	return snap, nil
}

func sessionView(s *model.Session) echo.Map {
	v := echo.Map{
		"id":        s.ID,
		"scope_id":  s.ScopeID,
		"round":     s.Round,
		"sale_date": s.SaleDate,
		"status":    s.Status,
	}
	if s.WinningAnimal != nil {
		v["winning_animal"] = *s.WinningAnimal
		v["winning_name"] = model.AnimalName(*s.WinningAnimal)
	}
	if s.ResultedAt != nil {
		v["resulted_at"] = s.ResultedAt.Format(time.RFC3339)
	}
	return v
}
