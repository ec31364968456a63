package tracker

import (
	"context"
	"sync/atomic"
	"time"
)

// Sweeper periodically abandons sessions that went quiet. Ticks overlapping
// a still-running sweep are skipped rather than queued.
type Sweeper struct {
	tracker      *Tracker
	interval     time.Duration
	abandonAfter time.Duration
	running      atomic.Bool
}

// NewSweeper creates a sweeper over the tracker.
func NewSweeper(t *Tracker, interval, abandonAfter time.Duration) *Sweeper {
	return &Sweeper{tracker: t, interval: interval, abandonAfter: abandonAfter}
}

// Start runs the sweep loop until ctx is cancelled.
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.Sweep(ctx)
			}
		}
	}()
}

// Sweep marks every in-progress session with no activity inside the abandon
// window as incomplete. Each abandoned session flows into the user's stats
// through the normal completion path, so it is counted exactly once.
func (sw *Sweeper) Sweep(ctx context.Context) {
	if !sw.running.CompareAndSwap(false, true) {
		return
	}
	defer sw.running.Store(false)

	t := sw.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions, err := t.store.ListSessions(ctx, Filter{Status: StatusInProgress})
	if err != nil {
		t.logger.WithError(err).Error("Sweep failed to list sessions")
		return
	}

	cutoff := t.now().UTC().Add(-sw.abandonAfter)
	abandoned := 0
	for _, s := range sessions {
		if s.LastActivity.After(cutoff) {
			continue
		}
		if err := t.completeLocked(ctx, s.SessionID, ReasonAbandoned); err != nil {
			t.logger.WithError(err).WithField("session_id", s.SessionID).
				Error("Sweep failed to abandon session")
			continue
		}
		abandoned++
	}

	if abandoned > 0 {
		t.logger.WithField("abandoned", abandoned).Info("Swept stale sessions")
	}
}
