package vision

import "time"

// Debouncer turns per-frame detections into single trigger events. It
// fires once Required consecutive positive frames have been seen and the
// cooldown since the previous fire has elapsed. Not safe for concurrent use.
type Debouncer struct {
	required int
	cooldown time.Duration
	count    int
	lastFire time.Time
}

// NewDebouncer returns a debouncer. required < 1 is treated as 1.
func NewDebouncer(required int, cooldown time.Duration) *Debouncer {
	if required < 1 {
		required = 1
	}
	return &Debouncer{required: required, cooldown: cooldown}
}

// Observe feeds one frame result and reports whether to fire. A negative
// frame resets the count. Reaching the threshold during cooldown does not
// fire; the count keeps growing and fires on the first positive frame
// after the cooldown.
func (d *Debouncer) Observe(present bool, now time.Time) bool {
	if !present {
		d.count = 0
		return false
	}
	d.count++
	if d.count >= d.required && !d.CoolingDown(now) {
		d.fire(now)
		return true
	}
	return false
}

// Trigger fires regardless of the count and starts the cooldown.
func (d *Debouncer) Trigger(now time.Time) {
	d.fire(now)
}

func (d *Debouncer) fire(now time.Time) {
	d.count = 0
	d.lastFire = now
}

// Reset clears the count. The cooldown is kept.
func (d *Debouncer) Reset() {
	d.count = 0
}

// Count returns the current run of positive frames.
func (d *Debouncer) Count() int { return d.count }

// Required returns the number of positive frames needed to fire.
func (d *Debouncer) Required() int { return d.required }

// CoolingDown reports whether a fire at now would be suppressed.
func (d *Debouncer) CoolingDown(now time.Time) bool {
	return !d.lastFire.IsZero() && now.Sub(d.lastFire) <= d.cooldown
}

// Remaining returns the cooldown left at now.
func (d *Debouncer) Remaining(now time.Time) time.Duration {
	if !d.CoolingDown(now) {
		return 0
	}
	return d.cooldown - now.Sub(d.lastFire)
}
