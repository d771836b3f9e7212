package field

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lastmile/internal/lifecycle"
	"lastmile/internal/model"
)

// CompletedTTL bounds how long a locally-completed parcel stays hidden while
// waiting for server confirmation.
const CompletedTTL = 7 * 24 * time.Hour

// TaskCache is the offline-first client state for the courier's assigned
// parcel list. It bridges the read-after-write lag between a local
// completion and the server catching up, without ever losing or duplicating
// work.
type TaskCache struct {
	mu        sync.Mutex
	now       func() time.Time
	list      []model.Parcel
	overrides map[string]model.Status // trackingNo -> optimistic status
	completed map[string]time.Time    // trackingNo -> locally completed at
	online    bool
	collapser *rate.Limiter
}

func NewTaskCache() *TaskCache {
	return &TaskCache{
		now:       time.Now,
		overrides: map[string]model.Status{},
		completed: map[string]time.Time{},
		online:    true,
		// Realtime events are at-least-once and can arrive in bursts;
		// collapse them into at most one refresh per second.
		collapser: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Snapshot returns the visible task list: the last-known server list with
// local overrides applied and locally-completed-unconfirmed parcels hidden.
// Expired completion markers are pruned lazily here, so a parcel whose
// server status reverted to non-terminal reappears after the TTL.
func (c *TaskCache) Snapshot() []model.Parcel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	out := make([]model.Parcel, 0, len(c.list))
	for _, p := range c.list {
		if _, done := c.completed[p.TrackingNo]; done {
			continue
		}
		if st, ok := c.overrides[p.TrackingNo]; ok {
			p.Status = st
		}
		out = append(out, p)
	}
	return out
}

// ApplyServerList replaces the cached list with a fresh server fetch and
// reconciles local state against it:
//   - an override is cleared once the server reports a matching or
//     further-advanced status;
//   - a completion marker is cleared once the server confirms a terminal
//     status (otherwise it survives until its TTL).
func (c *TaskCache) ApplyServerList(list []model.Parcel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.list = append([]model.Parcel(nil), list...)
	for _, p := range list {
		eff := lifecycle.Resolve(p.Status, p.RawStatus, p.DeliveredAt)
		if st, ok := c.overrides[p.TrackingNo]; ok {
			if lifecycle.Rank(eff) >= lifecycle.Rank(st) {
				delete(c.overrides, p.TrackingNo)
			}
		}
		if _, done := c.completed[p.TrackingNo]; done && lifecycle.Terminal(eff) {
			delete(c.completed, p.TrackingNo)
		}
	}
}

// MarkCompleted records a local completion: the parcel is hidden from the
// list and optimistically Delivered until the server confirms.
func (c *TaskCache) MarkCompleted(trackingNo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[trackingNo] = c.now()
	c.overrides[trackingNo] = model.StatusDelivered
}

// SetOverride records an optimistic status pending server confirmation.
func (c *TaskCache) SetOverride(trackingNo string, st model.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[trackingNo] = st
}

// ClearOverride drops the optimistic status, e.g. when an anomaly filing
// supersedes it.
func (c *TaskCache) ClearOverride(trackingNo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, trackingNo)
}

// HandleEvent processes a realtime change notification. Duplicates and
// out-of-order events are safe: every event is only a refresh trigger,
// collapsed to at most one refresh per second.
func (c *TaskCache) HandleEvent(ev model.ChangeEvent) (refresh bool) {
	switch ev.Op {
	case "insert", "update", "delete":
	default:
		return false
	}
	return c.collapser.Allow()
}

// SetOnline tracks reachability; the offline→online transition requests a
// refresh.
func (c *TaskCache) SetOnline(online bool) (refresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasOffline := !c.online
	c.online = online
	return online && wasOffline
}

// Online reports the last known reachability state.
func (c *TaskCache) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// CompletedPending reports whether a parcel is locally completed but not yet
// server-confirmed.
func (c *TaskCache) CompletedPending(trackingNo string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	_, ok := c.completed[trackingNo]
	return ok
}

func (c *TaskCache) pruneLocked() {
	cutoff := c.now().Add(-CompletedTTL)
	for tn, at := range c.completed {
		if at.Before(cutoff) {
			delete(c.completed, tn)
		}
	}
}
