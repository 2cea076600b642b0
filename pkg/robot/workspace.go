// Package robot provides control of the ZKBot arm over a serial link.
package robot

import (
	"errors"
	"fmt"
)

// ErrOutOfWorkspace is returned when a target lies outside the workspace limits.
var ErrOutOfWorkspace = errors.New("target outside workspace")

// Point is a Cartesian position in mm.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns p offset by d.
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z}
}

func (p Point) String() string {
	return fmt.Sprintf("X=%.1f Y=%.1f Z=%.1f", p.X, p.Y, p.Z)
}

// Range is an inclusive [Min, Max] interval. The zero Range is unbounded.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return v >= r.Min && v <= r.Max
}

// Limits holds the reachable box of the arm.
type Limits struct {
	X Range `json:"x"`
	Y Range `json:"y"`
	Z Range `json:"z"`
}

// DefaultLimits returns the ZKBot workspace.
func DefaultLimits() Limits {
	return Limits{
		X: Range{Min: -400, Max: 400},
		Y: Range{Min: -400, Max: 400},
		Z: Range{Min: -300, Max: 300},
	}
}

// Check returns ErrOutOfWorkspace naming the first axis out of range.
func (l Limits) Check(p Point) error {
	axes := []struct {
		name string
		v    float64
		r    Range
	}{
		{"X", p.X, l.X},
		{"Y", p.Y, l.Y},
		{"Z", p.Z, l.Z},
	}
	for _, a := range axes {
		if !a.r.Contains(a.v) {
			return fmt.Errorf("%w: %s=%.1f not in [%.1f, %.1f]", ErrOutOfWorkspace, a.name, a.v, a.r.Min, a.r.Max)
		}
	}
	return nil
}
