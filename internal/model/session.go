package model

import "time"

// Session round labels.  Each calendar day of a scope is divided into three
// sales rounds; the active round is derived from the wall clock.
const (
	RoundMorning   = "MORNING"
	RoundAfternoon = "AFTERNOON"
	RoundEvening   = "EVENING"
)

// Session status values.  A session is immutable once RESULTED.
const (
	SessionScheduled = "SCHEDULED"
	SessionOpen      = "OPEN"
	SessionResulted  = "RESULTED"
)

// Session is one timed sales round for a catalog scope.  Sessions are
// created lazily on first read of the active (scope, date, round) window;
// the unique key on those three columns makes lazy creation exactly-once.
//
// Fields:
//
//	ID            – primary key identifier.
//	ScopeID       – catalog scope this round belongs to.
//	Round         – MORNING, AFTERNOON or EVENING.
//	SaleDate      – calendar date of the round (UTC).
//	Status        – SCHEDULED, OPEN or RESULTED.
//	WinningAnimal – winning catalog ordinal, set when resulted.
//	ResultedAt    – when the session was resulted.
type Session struct {
	ID            uint64     // sessions.id
	ScopeID       uint64     // sessions.scope_id
	Round         string     // sessions.round
	SaleDate      string     // sessions.sale_date (YYYY-MM-DD)
	Status        string     // sessions.status
	WinningAnimal *uint32    // sessions.winning_animal (nullable)
	ResultedAt    *time.Time // sessions.resulted_at (nullable)
	CreatedAt     time.Time  // sessions.created_at
}

// CurrentRound maps a wall-clock time to the round label of the window it
// falls in.  Windows are fixed: morning until 12:00, afternoon until 18:00,
// evening for the remainder of the day.
func CurrentRound(now time.Time) string {
	switch h := now.UTC().Hour(); {
	case h < 12:
		return RoundMorning
	case h < 18:
		return RoundAfternoon
	default:
		return RoundEvening
	}
}
