package model

import "time"

// CapacityLine is the per-(session, animal) sold/limit counter and the unit
// of pessimistic locking for oversell prevention.  Mutations happen only
// inside a transaction holding a row lock on this exact row, and rows are
// always locked in ascending animal ordinal order.
//
// Invariant: SoldCents <= LimitCents whenever Banned is false.
type CapacityLine struct {
	ID         uint64    // capacity_lines.id
	SessionID  uint64    // capacity_lines.session_id
	Animal     uint32    // capacity_lines.animal (catalog ordinal)
	LimitCents int64     // capacity_lines.limit_cents
	SoldCents  int64     // capacity_lines.sold_cents
	Banned     bool      // capacity_lines.banned
	BanReason  string    // capacity_lines.ban_reason
	CreatedAt  time.Time // capacity_lines.created_at
	UpdatedAt  time.Time // capacity_lines.updated_at
}

// Remaining returns the headroom left on the line, floored at zero.
func (l CapacityLine) Remaining() int64 {
	if l.SoldCents >= l.LimitCents {
		return 0
	}
	return l.LimitCents - l.SoldCents
}
