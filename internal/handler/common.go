package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/repository"
)

// getUserID extracts the user_id from echo.Context and converts it to
// uint64. JWT claims decode numbers as float64, so several source types
// are accepted.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// domainError translates engine errors into 4xx-equivalent JSON bodies
// with a machine-readable kind. Capacity exhaustion and bans name the
// animal and remaining headroom so clients can display them; everything
// unexpected collapses into a generic retry-safe 500.
func domainError(c echo.Context, err error) error {
	var limitErr *repository.LimitExceededError
	var banErr *repository.BannedError
	switch {
	case errors.As(err, &limitErr):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":           "limit exceeded",
			"kind":            "limit_exceeded",
			"animal":          limitErr.Animal,
			"remaining_cents": limitErr.RemainingCents,
		})
	case errors.As(err, &banErr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":  "animal is banned",
			"kind":   "banned",
			"animal": banErr.Animal,
			"reason": banErr.Reason,
		})
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrCapacityNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error(), "kind": "not_found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "kind": "forbidden"})
	case errors.Is(err, repository.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "kind": "invalid_state"})
	case errors.Is(err, payment.ErrProvider):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable, please retry", "kind": "provider_error"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error, please retry", "kind": "internal"})
}
