package robot

import (
	"errors"
	"fmt"
	"sort"
)

// ErrPositionNotTaught is returned when a named position has not been taught.
var ErrPositionNotTaught = errors.New("position not taught")

// Well-known station positions.
const (
	PosPickup       = "pickup"
	PosPickupLower  = "pickup_lower"
	PosWashStation  = "wash_station"
	PosRinseStation = "rinse_station"
	PosStack        = "stack"
	PosSafe         = "safe"
)

// CyclePositions returns the positions a full wash cycle cannot run without.
func CyclePositions() []string {
	return []string{PosPickup, PosWashStation, PosRinseStation, PosStack}
}

// Positions maps a taught position name to its coordinates.
type Positions map[string]Point

// Get returns the named position or ErrPositionNotTaught.
func (p Positions) Get(name string) (Point, error) {
	pt, ok := p[name]
	if !ok {
		return Point{}, fmt.Errorf("%w: %q", ErrPositionNotTaught, name)
	}
	return pt, nil
}

// Has reports whether name has been taught.
func (p Positions) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Missing returns the names that have not been taught, in argument order.
func (p Positions) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if !p.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Names returns the taught names in sorted order.
func (p Positions) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
