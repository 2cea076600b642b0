package wash

import (
	"sort"
	"sync"
	"time"
)

// SensorStatus is the health of one sensor.
type SensorStatus string

const (
	SensorOK      SensorStatus = "ok"
	SensorWarning SensorStatus = "warning"
	SensorError   SensorStatus = "error"
)

// Sensor names.
const (
	ProximityPickup = "proximity_pickup"
	ProximityWash   = "proximity_wash"
	ProximityRinse  = "proximity_rinse"
	ProximityStack  = "proximity_stack"
	WeightSensor    = "weight_sensor"
	WaterLevel      = "water_level"
	BrushMotor      = "brush_motor"
	Pump            = "pump"
	Estop           = "estop"
)

// SensorReport is the result of a health check.
type SensorReport struct {
	AllOK     bool                    `json:"all_ok"`
	Sensors   map[string]SensorStatus `json:"sensors"`
	LastCheck time.Time               `json:"last_check"`
}

// Sensors is the station sensor set. Until real inputs are wired every
// sensor reports OK.
type Sensors struct {
	mu        sync.Mutex
	status    map[string]SensorStatus
	lastCheck time.Time
}

// NewSensors returns the simulated sensor set.
func NewSensors() *Sensors {
	s := &Sensors{status: make(map[string]SensorStatus)}
	for _, name := range []string{
		ProximityPickup, ProximityWash, ProximityRinse, ProximityStack,
		WeightSensor, WaterLevel, BrushMotor, Pump, Estop,
	} {
		s.status[name] = SensorOK
	}
	return s
}

// Check returns the status of one sensor. Unknown sensors are errors.
func (s *Sensors) Check(name string) SensorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		return st
	}
	return SensorError
}

// CheckAll refreshes every sensor and reports whether all are OK.
func (s *Sensors) CheckAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = time.Now()
	for _, st := range s.status {
		if st != SensorOK {
			return false
		}
	}
	return true
}

// Names returns the sensor names in order.
func (s *Sensors) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.status))
	for n := range s.status {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Report returns a copy of the current sensor state.
func (s *Sensors) Report() SensorReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := SensorReport{AllOK: true, Sensors: make(map[string]SensorStatus, len(s.status)), LastCheck: s.lastCheck}
	for k, v := range s.status {
		r.Sensors[k] = v
		if v != SensorOK {
			r.AllOK = false
		}
	}
	return r
}

// WaterLevelPercent returns the tank level.
func (s *Sensors) WaterLevelPercent() float64 { return 75 }

// EstopPressed reports the emergency stop button.
func (s *Sensors) EstopPressed() bool { return false }
