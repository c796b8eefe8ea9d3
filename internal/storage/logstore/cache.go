package logstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// snapshotCache keeps the last full table read for a short TTL so rapid
// history refreshes share one store round trip.
type snapshotCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu         sync.Mutex
	records    []Record
	fetchedAt  time.Time
	valid      bool
	generation uint64
}

func newSnapshotCache(ttl time.Duration, now func() time.Time) *snapshotCache {
	return &snapshotCache{ttl: ttl, now: now}
}

// get returns the cached snapshot or fetches a fresh one. Concurrent misses
// of the same generation are collapsed into a single fetch, so a read that
// starts after invalidate never joins a fetch begun before it. The shared
// fetch is detached from the cancellation of whichever caller started it.
// Callers must not mutate the result.
func (c *snapshotCache) get(ctx context.Context, fetch func(context.Context) ([]Record, error)) ([]Record, error) {
	if c.ttl <= 0 {
		return fetch(ctx)
	}

	c.mu.Lock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		records := c.records
		c.mu.Unlock()
		return records, nil
	}
	generation := c.generation
	c.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("records-"+strconv.FormatUint(generation, 10), func() (any, error) {
		records, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An append during the fetch makes this snapshot stale already.
		if c.generation == generation {
			c.records = records
			c.fetchedAt = c.now()
			c.valid = true
		}
		c.mu.Unlock()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}

// invalidate drops the snapshot so the next read sees freshly appended rows.
func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.records = nil
	c.generation++
	c.mu.Unlock()
}
