package wash

import (
	"fmt"
	"sync"
	"time"
)

// Stats summarises completed cycle times.
type Stats struct {
	Cycles      int           `json:"total_cycles"`
	Average     time.Duration `json:"average_cycle_time"`
	Min         time.Duration `json:"min_cycle_time"`
	Max         time.Duration `json:"max_cycle_time"`
	CupsPerHour float64       `json:"cups_per_hour"`
	Total       time.Duration `json:"total_time"`
}

// Tracker records cycle durations.
type Tracker struct {
	mu     sync.Mutex
	cycles []time.Duration
}

// Add records one cycle.
func (t *Tracker) Add(d time.Duration) {
	t.mu.Lock()
	t.cycles = append(t.cycles, d)
	t.mu.Unlock()
}

// Reset forgets all cycles.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.cycles = nil
	t.mu.Unlock()
}

// Average returns the mean cycle time, 0 with no cycles.
func (t *Tracker) Average() time.Duration {
	return t.Stats().Average
}

// Remaining estimates the time left for n more cups.
func (t *Tracker) Remaining(n int) time.Duration {
	return t.Average() * time.Duration(n)
}

// Stats returns the summary.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Stats
	s.Cycles = len(t.cycles)
	if s.Cycles == 0 {
		return s
	}
	s.Min, s.Max = t.cycles[0], t.cycles[0]
	for _, d := range t.cycles {
		s.Total += d
		s.Min = min(s.Min, d)
		s.Max = max(s.Max, d)
	}
	s.Average = s.Total / time.Duration(s.Cycles)
	if s.Average > 0 {
		s.CupsPerHour = float64(time.Hour) / float64(s.Average)
	}
	return s
}

// FormatDuration renders d as "12.5s", "3m 20s" or "1h 5m".
func FormatDuration(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	case sec < 3600:
		return fmt.Sprintf("%dm %ds", int(sec)/60, int(sec)%60)
	default:
		return fmt.Sprintf("%dh %dm", int(sec)/3600, int(sec)%3600/60)
	}
}
