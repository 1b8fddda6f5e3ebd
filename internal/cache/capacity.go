// Package cache provides the read-through view of a session's capacity
// ledger. The cache is read-optimizing only and never authoritative:
// every ledger mutation deletes the affected session's entry, and any
// Redis failure degrades to a miss so reads fall through to the ledger.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/animal-market/internal/model"
)

// SnapshotLine is one animal's entry in the cached capacity view.
type SnapshotLine struct {
	Animal         uint32 `json:"animal"`
	Name           string `json:"name"`
	LimitCents     int64  `json:"limit_cents"`
	SoldCents      int64  `json:"sold_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	Banned         bool   `json:"banned"`
	BanReason      string `json:"ban_reason,omitempty"`
}

// Snapshot is the cached per-session capacity view served to clients.
type Snapshot struct {
	SessionID uint64         `json:"session_id"`
	Lines     []SnapshotLine `json:"lines"`
	TakenAt   time.Time      `json:"taken_at"`
}

// CapacityCache caches capacity snapshots in Redis with a short TTL.
// A nil client disables the cache entirely; every Get is then a miss and
// every Set/Invalidate a no-op.
type CapacityCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCapacityCache returns a cache over the given client. rdb may be nil.
func NewCapacityCache(rdb *redis.Client, ttl time.Duration) *CapacityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CapacityCache{rdb: rdb, ttl: ttl}
}

func capacityKey(sessionID uint64) string {
	return fmt.Sprintf("capacity:%d", sessionID)
}

// Get returns the cached snapshot for a session, or (nil, false) on miss.
// Redis errors and decode failures are treated as misses.
func (c *CapacityCache) Get(ctx context.Context, sessionID uint64) (*Snapshot, bool) {
	if c.rdb == nil {
		return nil, false
	}
	bs, err := c.rdb.Get(ctx, capacityKey(sessionID)).Bytes()
	if err != nil {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// Set stores a snapshot with the configured TTL, best-effort.
func (c *CapacityCache) Set(ctx context.Context, snap *Snapshot) {
	if c.rdb == nil || snap == nil {
		return
	}
	bs, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.rdb.SetEx(ctx, capacityKey(snap.SessionID), bs, c.ttl).Err()
}

// Invalidate deletes a session's cached snapshot. Called synchronously
// after every ledger mutation commits so the next read is fresh relative
// to that mutation.
func (c *CapacityCache) Invalidate(ctx context.Context, sessionID uint64) {
	if c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, capacityKey(sessionID)).Err()
}

// BuildSnapshot converts ledger rows into the cached client view.
func BuildSnapshot(sessionID uint64, lines []model.CapacityLine) *Snapshot {
	snap := &Snapshot{SessionID: sessionID, TakenAt: time.Now().UTC()}
	for _, l := range lines {
		snap.Lines = append(snap.Lines, SnapshotLine{
			Animal:         l.Animal,
			Name:           model.AnimalName(l.Animal),
			LimitCents:     l.LimitCents,
			SoldCents:      l.SoldCents,
			RemainingCents: l.Remaining(),
			Banned:         l.Banned,
			BanReason:      l.BanReason,
		})
	}
	return snap
}
