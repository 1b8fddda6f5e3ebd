package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/iliyamo/animal-market/internal/model"
)

// ReserveLine is one (animal, amount) position of a reservation request.
type ReserveLine struct {
	Animal      uint32
	AmountCents int64
}

// CapacityRepo is the capacity ledger: it owns all mutations of the
// per-(session, animal) sold counters.  Every mutation runs inside a
// caller-provided transaction and takes a row lock on the exact line it
// touches, so concurrent reservations against the same line serialize
// and can never push sold past the limit.
type CapacityRepo struct {
	db *sql.DB
}

// NewCapacityRepo returns a new CapacityRepo bound to the given database.
func NewCapacityRepo(db *sql.DB) *CapacityRepo { return &CapacityRepo{db: db} }

// ReserveTx atomically reserves capacity for every line of the request or
// none of them.  Lines are merged per animal and locked in ascending
// ordinal order; the ordering is enforced here rather than left to caller
// discipline because it is what prevents cross-request deadlock.  The
// first failing line aborts the call: ErrCapacityNotFound when the line
// does not exist, BannedError when the ban flag is set, and
// LimitExceededError (with the remaining headroom) when the amount does
// not fit.  The caller must roll back the transaction on error so no
// partial increments survive.
func (r *CapacityRepo) ReserveTx(ctx context.Context, tx *sql.Tx, sessionID uint64, lines []ReserveLine) error {
	merged := mergeLines(lines)
	const sel = `SELECT limit_cents, sold_cents, banned, ban_reason
	             FROM capacity_lines WHERE session_id = ? AND animal = ? FOR UPDATE`
	const upd = `UPDATE capacity_lines SET sold_cents = sold_cents + ? WHERE session_id = ? AND animal = ?`
	for _, ln := range merged {
		var limit, sold int64
		var banned bool
		var reason sql.NullString
		err := tx.QueryRowContext(ctx, sel, sessionID, ln.Animal).Scan(&limit, &sold, &banned, &reason)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrCapacityNotFound
			}
			return err
		}
		if banned {
			return &BannedError{Animal: ln.Animal, Reason: reason.String}
		}
		if sold+ln.AmountCents > limit {
			remaining := limit - sold
			if remaining < 0 {
				remaining = 0
			}
			return &LimitExceededError{Animal: ln.Animal, RemainingCents: remaining}
		}
		if _, err := tx.ExecContext(ctx, upd, ln.AmountCents, sessionID, ln.Animal); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseTx decrements a line's sold amount, floored at zero so a double
// rollback can never drive the counter negative.  Releasing a missing
// line is a no-op; the release paths (cancel, expiry, failed payment) do
// not care whether the line still exists.
func (r *CapacityRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, sessionID uint64, animal uint32, amountCents int64) error {
	const q = `UPDATE capacity_lines SET sold_cents = GREATEST(sold_cents - ?, 0) WHERE session_id = ? AND animal = ?`
	_, err := tx.ExecContext(ctx, q, amountCents, sessionID, animal)
	return err
}

// ReapplyTx re-applies a previously released reservation during late
// settlement.  Unlike ReserveTx it does not check the limit: the buyer
// already paid, so the one legitimate over-allocation is accepted rather
// than refusing settled money.
func (r *CapacityRepo) ReapplyTx(ctx context.Context, tx *sql.Tx, sessionID uint64, animal uint32, amountCents int64) error {
	const q = `UPDATE capacity_lines SET sold_cents = sold_cents + ? WHERE session_id = ? AND animal = ?`
	_, err := tx.ExecContext(ctx, q, amountCents, sessionID, animal)
	return err
}

// SetBan flips the ban flag on a single line.  Clearing the ban also
// clears the stored reason.
func (r *CapacityRepo) SetBan(ctx context.Context, sessionID uint64, animal uint32, banned bool, reason string) error {
	if !banned {
		reason = ""
	}
	const q = `UPDATE capacity_lines SET banned = ?, ban_reason = ? WHERE session_id = ? AND animal = ?`
	res, err := r.db.ExecContext(ctx, q, banned, reason, sessionID, animal)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// RowsAffected can be zero for a same-value update as well, so
		// double-check existence before reporting not-found.
		var id uint64
		err := r.db.QueryRowContext(ctx, `SELECT id FROM capacity_lines WHERE session_id = ? AND animal = ?`, sessionID, animal).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCapacityNotFound
		}
		return err
	}
	return nil
}

// ListBySession returns all capacity lines of a session ordered by animal
// ordinal.  This is the uncached read the snapshot cache falls through to.
func (r *CapacityRepo) ListBySession(ctx context.Context, sessionID uint64) ([]model.CapacityLine, error) {
	const q = `SELECT id, session_id, animal, limit_cents, sold_cents, banned, ban_reason, created_at, updated_at
	           FROM capacity_lines WHERE session_id = ? ORDER BY animal ASC`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CapacityLine
	for rows.Next() {
		var l model.CapacityLine
		var reason sql.NullString
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Animal, &l.LimitCents, &l.SoldCents, &l.Banned, &reason, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.BanReason = reason.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeLines collapses duplicate animals into one line and returns the
// result sorted by ascending ordinal, the lock order ReserveTx relies on.
func mergeLines(lines []ReserveLine) []ReserveLine {
	sums := make(map[uint32]int64, len(lines))
	for _, ln := range lines {
		sums[ln.Animal] += ln.AmountCents
	}
	out := make([]ReserveLine, 0, len(sums))
	for animal, amount := range sums {
		out = append(out, ReserveLine{Animal: animal, AmountCents: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Animal < out[j].Animal })
	return out
}
