package statistic

import (
	"log/slog"
	"slices"
	"time"

	"Go2NetFlow/internal/model"
)

// ActivityTracker splits a flow's timeline into active bursts separated by idle gaps
// longer than the activity timeout.
type ActivityTracker struct {
	timeout time.Duration

	open      bool
	firstSeen model.Timestamp
	lastSeen  model.Timestamp

	bursts     []float64 // closed burst durations, seconds
	gaps       []float64 // idle gaps between bursts, seconds
	outOfOrder uint64
}

// NewActivityTracker returns a tracker with no open burst.
func NewActivityTracker(timeout time.Duration) *ActivityTracker {
	return &ActivityTracker{timeout: timeout}
}

// Observe folds a packet timestamp into the timeline.
// Timestamps earlier than the current burst's last packet are counted as out of order
// and belong to the open burst without moving its bounds.
func (a *ActivityTracker) Observe(t model.Timestamp) {
	if !a.open {
		a.open, a.firstSeen, a.lastSeen = true, t, t
		return
	}
	if t.Before(a.lastSeen) {
		a.outOfOrder++
		slog.Debug("out of order timestamp in activity tracker",
			"timestamp", t.Nanoseconds(), "last_seen", a.lastSeen.Nanoseconds())
		return
	}
	gap := t.Sub(a.lastSeen)
	if gap <= a.timeout {
		a.lastSeen = t
		return
	}
	a.closeBurst()
	a.gaps = append(a.gaps, gap.Seconds())
	a.open, a.firstSeen, a.lastSeen = true, t, t
}

// Close ends the open burst, if any. Calling it again is a no-op.
func (a *ActivityTracker) Close() {
	if a.open {
		a.closeBurst()
	}
}

func (a *ActivityTracker) closeBurst() {
	a.bursts = append(a.bursts, a.lastSeen.Sub(a.firstSeen).Seconds())
	a.open = false
}

// Open reports whether a burst is in progress, and its bounds.
func (a *ActivityTracker) Open() (first, last model.Timestamp, ok bool) {
	return a.firstSeen, a.lastSeen, a.open
}

// Active summarizes the closed burst durations in seconds.
func (a *ActivityTracker) Active() Summary { return NewSummary(a.bursts) }

// ActiveAtEnd summarizes the burst durations as if the flow ended now,
// counting the open burst without closing it.
func (a *ActivityTracker) ActiveAtEnd() Summary {
	if !a.open {
		return a.Active()
	}
	bursts := append(slices.Clone(a.bursts), a.lastSeen.Sub(a.firstSeen).Seconds())
	return NewSummary(bursts)
}

// Idle summarizes the gaps between bursts in seconds.
func (a *ActivityTracker) Idle() Summary { return NewSummary(a.gaps) }

// OutOfOrder returns how many timestamps arrived earlier than the open burst's last packet.
func (a *ActivityTracker) OutOfOrder() uint64 { return a.outOfOrder }
