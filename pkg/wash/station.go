// Package wash runs complete cup washing cycles: detect a cup, carry it
// through the wash and rinse stations and stack it.
package wash

import (
	"context"
	"sync"
	"time"
)

// PWM limits for the brush motor and water pump.
const (
	MinPWM = 0
	MaxPWM = 255
)

// StationStatus is a snapshot of the wash station.
type StationStatus struct {
	Washing    bool          `json:"is_washing"`
	Rinsing    bool          `json:"is_rinsing"`
	BrushSpeed int           `json:"brush_speed"`
	WaterFlow  int           `json:"water_flow"`
	TotalWash  time.Duration `json:"total_wash_time"`
	TotalRinse time.Duration `json:"total_rinse_time"`
	CyclesDone int           `json:"cycles_completed"`
}

// Station drives the brush motor and water pump. The outputs are not wired
// to hardware yet; the station keeps timing and totals.
type Station struct {
	mu         sync.Mutex
	brushSpeed int
	waterFlow  int
	washing    bool
	rinsing    bool
	totalWash  time.Duration
	totalRinse time.Duration
	cycles     int
}

// NewStation returns a station with clamped brush speed and water flow.
func NewStation(brushSpeed, waterFlow int) *Station {
	s := &Station{}
	s.SetBrushSpeed(brushSpeed)
	s.SetWaterFlow(waterFlow)
	return s
}

func clampPWM(v int) int {
	return max(MinPWM, min(MaxPWM, v))
}

// SetBrushSpeed sets the brush PWM, clamped to 0-255.
func (s *Station) SetBrushSpeed(v int) {
	s.mu.Lock()
	s.brushSpeed = clampPWM(v)
	s.mu.Unlock()
}

// SetWaterFlow sets the pump PWM, clamped to 0-255.
func (s *Station) SetWaterFlow(v int) {
	s.mu.Lock()
	s.waterFlow = clampPWM(v)
	s.mu.Unlock()
}

// Wash runs the brush and water for d. A cancelled ctx stops early and
// only the elapsed time is counted.
func (s *Station) Wash(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.washing = true
	s.mu.Unlock()

	elapsed, err := run(ctx, d)

	s.mu.Lock()
	s.washing = false
	s.totalWash += elapsed
	if err == nil {
		s.cycles++
	}
	s.mu.Unlock()
	return err
}

// Rinse runs the water only for d.
func (s *Station) Rinse(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.rinsing = true
	s.mu.Unlock()

	elapsed, err := run(ctx, d)

	s.mu.Lock()
	s.rinsing = false
	s.totalRinse += elapsed
	s.mu.Unlock()
	return err
}

// Stop turns everything off.
func (s *Station) Stop() {
	s.mu.Lock()
	s.washing = false
	s.rinsing = false
	s.mu.Unlock()
}

// Status returns a snapshot.
func (s *Station) Status() StationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StationStatus{
		Washing:    s.washing,
		Rinsing:    s.rinsing,
		BrushSpeed: s.brushSpeed,
		WaterFlow:  s.waterFlow,
		TotalWash:  s.totalWash,
		TotalRinse: s.totalRinse,
		CyclesDone: s.cycles,
	}
}

func run(ctx context.Context, d time.Duration) (time.Duration, error) {
	start := time.Now()
	if err := sleep(ctx, d); err != nil {
		return time.Since(start), err
	}
	return d, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
