package sync

import (
	"strconv"
	"time"

	"github.com/matheus3301/parley/internal/store"
)

const lastPullKey = "last_pull_at"

// Checkpoints records sync progress in the cache's sync_state table.
type Checkpoints struct {
	db *store.DB
}

func NewCheckpoints(db *store.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// RecordPull stores the time of the last successful pull.
func (c *Checkpoints) RecordPull(at time.Time) error {
	return c.db.SetSyncState(lastPullKey, strconv.FormatInt(at.UnixMilli(), 10))
}

// LastPull returns the time of the last successful pull, or the zero time.
func (c *Checkpoints) LastPull() (time.Time, error) {
	v, err := c.db.SyncState(lastPullKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
