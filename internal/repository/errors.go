// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrForbidden indicates that the current buyer is not
// authorized to operate on an order owned by someone else, while
// LimitExceededError carries the remaining headroom so clients can
// show how much of an animal is still purchasable.
package repository

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidState is returned when an operation is illegal for the
// record's current status, such as cancelling an order that is no
// longer PENDING. Handlers should translate this into an HTTP 409
// response.
var ErrInvalidState = errors.New("invalid state")

// ErrSessionNotFound is returned when a session does not exist or is
// not open for the requested operation's time window.
var ErrSessionNotFound = errors.New("session not found")

// ErrOrderNotFound is returned when an order does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ErrCapacityNotFound is returned when no capacity line exists for a
// (session, animal) pair, e.g. an ordinal outside the catalog.
var ErrCapacityNotFound = errors.New("capacity line not found")

// BannedError reports an attempt to reserve capacity on an animal whose
// line carries the ban flag. The reason is surfaced to the buyer.
type BannedError struct {
	Animal uint32 // catalog ordinal of the banned animal
	Reason string // operator-supplied ban reason
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("animal %d is banned: %s", e.Animal, e.Reason)
}

// LimitExceededError reports that a reservation would push a capacity
// line's sold amount over its limit. RemainingCents is the headroom
// observed while the row lock was held.
type LimitExceededError struct {
	Animal         uint32 // catalog ordinal that ran out of capacity
	RemainingCents int64  // headroom still available on the line
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("animal %d limit exceeded, %d cents remaining", e.Animal, e.RemainingCents)
}
