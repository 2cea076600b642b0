package wash

import "time"

// CycleRecord is the wash log entry written after every cycle.
type CycleRecord struct {
	ID            string    `json:"id"`
	CupNumber     int       `json:"cup_number"`
	CycleTime     float64   `json:"cycle_time"` // seconds
	WashDuration  float64   `json:"wash_duration,omitempty"`
	RinseDuration float64   `json:"rinse_duration,omitempty"`
	Program       string    `json:"program,omitempty"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ErrorRecord is the error log entry.
type ErrorRecord struct {
	Message   string    `json:"message"`
	State     State     `json:"state"`
	CycleID   string    `json:"cycle_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder persists cycle and error records.
type Recorder interface {
	LogCycle(rec CycleRecord) error
	LogError(rec ErrorRecord) error
}

// ProgramLoader loads a saved program by name.
type ProgramLoader interface {
	LoadProgram(name string) (*Program, error)
}
