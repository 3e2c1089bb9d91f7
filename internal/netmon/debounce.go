package netmon

import "time"

// Debouncer coalesces bursts of triggers into at most one action per
// interval. The first trigger runs immediately; triggers inside the
// interval leave one pending action that Flush releases once the interval
// has passed. It is not safe for concurrent use; the event loop owns it.
type Debouncer struct {
	interval time.Duration
	last     time.Time
	pending  bool
}

// NewDebouncer returns a debouncer allowing one action per interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger records a trigger at now and reports whether the action should
// run now.
func (d *Debouncer) Trigger(now time.Time) bool {
	if d.last.IsZero() || now.Sub(d.last) >= d.interval {
		d.last = now
		d.pending = false
		return true
	}
	d.pending = true
	return false
}

// Flush reports whether a pending action is due at now, clearing it if so.
func (d *Debouncer) Flush(now time.Time) bool {
	if !d.pending || now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	d.pending = false
	return true
}

// Retry marks the action pending again, typically after it failed.
func (d *Debouncer) Retry() {
	d.pending = true
}

// Pending reports whether an action is waiting for Flush.
func (d *Debouncer) Pending() bool {
	return d.pending
}
