package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/animal-market/internal/model"
)

// SessionRepo provides persistence for sales sessions.  Sessions are
// created lazily on first read of the active (scope, date, round) window;
// a unique key over those three columns plus INSERT IGNORE makes the lazy
// creation exactly-once even under concurrent first reads.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions that
// span multiple repositories.
func (r *SessionRepo) DB() *sql.DB { return r.db }

// EnsureCurrent returns the session for (scopeID, now's date, now's round),
// creating it in OPEN status together with one capacity line per catalog
// animal when it does not exist yet.  The INSERT IGNORE pair resolves the
// race between concurrent first readers; whichever insert wins, every
// caller re-reads the surviving row.
func (r *SessionRepo) EnsureCurrent(ctx context.Context, scopeID uint64, now time.Time, limitCents int64) (*model.Session, error) {
	date := now.UTC().Format("2006-01-02")
	round := model.CurrentRound(now)

	const ins = `INSERT IGNORE INTO sessions (scope_id, round, sale_date, status) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, ins, scopeID, round, date, model.SessionOpen); err != nil {
		return nil, err
	}
	s, err := r.getByWindow(ctx, scopeID, date, round)
	if err != nil {
		return nil, err
	}
	// Bulk-create the capacity lines. INSERT IGNORE keeps this idempotent
	// against the losing side of the creation race.
	query := `INSERT IGNORE INTO capacity_lines (session_id, animal, limit_cents, sold_cents) VALUES `
	args := make([]interface{}, 0, len(model.Catalog)*4)
	for i, a := range model.Catalog {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, 0)"
		args = append(args, s.ID, a.Ordinal, limitCents)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID returns a session by primary key.  ErrSessionNotFound is
// returned when no row exists.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	const q = `SELECT id, scope_id, round, sale_date, status, winning_animal, resulted_at, created_at
	           FROM sessions WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// GetForUpdateTx loads a session inside the given transaction while
// holding a row lock on it.  Used by session resolution so concurrent
// resolve calls serialize on the session row.
func (r *SessionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Session, error) {
	const q = `SELECT id, scope_id, round, sale_date, status, winning_animal, resulted_at, created_at
	           FROM sessions WHERE id = ? FOR UPDATE`
	return r.scanOne(tx.QueryRowContext(ctx, q, id))
}

// MarkResultedTx stamps the winning animal and flips the session to
// RESULTED within the provided transaction.
func (r *SessionRepo) MarkResultedTx(ctx context.Context, tx *sql.Tx, id uint64, winning uint32) error {
	const q = `UPDATE sessions SET status = ?, winning_animal = ?, resulted_at = UTC_TIMESTAMP() WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, model.SessionResulted, winning, id)
	return err
}

func (r *SessionRepo) getByWindow(ctx context.Context, scopeID uint64, date, round string) (*model.Session, error) {
	const q = `SELECT id, scope_id, round, sale_date, status, winning_animal, resulted_at, created_at
	           FROM sessions WHERE scope_id = ? AND sale_date = ? AND round = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, scopeID, date, round))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SessionRepo) scanOne(row rowScanner) (*model.Session, error) {
	var s model.Session
	var winning sql.NullInt64
	var resultedAt sql.NullTime
	err := row.Scan(&s.ID, &s.ScopeID, &s.Round, &s.SaleDate, &s.Status, &winning, &resultedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if winning.Valid {
		w := uint32(winning.Int64)
		s.WinningAnimal = &w
	}
	if resultedAt.Valid {
		t := resultedAt.Time.UTC()
		s.ResultedAt = &t
	}
	return &s, nil
}
