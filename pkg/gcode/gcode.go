// Package gcode builds the G-code commands understood by the ZKBot
// controller and wraps them in the marker frame it expects on the wire.
package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Feed rate limits in mm/min.
const (
	MinFeed = 1
	MaxFeed = 500
)

// Gripper angle limits in degrees (0 closed, 180 open).
const (
	GripperClosed = 0
	GripperOpen   = 180
)

// MoveKind selects rapid (G00) or linear (G01) motion.
type MoveKind string

const (
	Rapid  MoveKind = "G00"
	Linear MoveKind = "G01"
)

// Fixed commands.
const (
	cmdHome          = "G28"
	cmdResetErrors   = "M999"
	cmdCheckEstop    = "M122"
	cmdPumpOn        = "M03"
	cmdPumpOff       = "M05"
	cmdEmergencyStop = "M112"
	cmdQueryPosition = "P01"
)

// Home returns the homing command (G28).
func Home() string { return cmdHome }

// ResetErrors returns the alarm reset command (M999).
func ResetErrors() string { return cmdResetErrors }

// CheckEstop returns the E-stop status query (M122).
func CheckEstop() string { return cmdCheckEstop }

// PumpOn returns the vacuum pump on command (M03).
func PumpOn() string { return cmdPumpOn }

// PumpOff returns the vacuum pump off command (M05).
func PumpOff() string { return cmdPumpOff }

// EmergencyStop returns the emergency stop command (M112).
func EmergencyStop() string { return cmdEmergencyStop }

// QueryPosition returns the position query (P01).
func QueryPosition() string { return cmdQueryPosition }

// Move builds an XYZ move. The feed is scaled by override and clamped to
// [MinFeed, MaxFeed]. Unknown kinds are sent as G01.
func Move(kind MoveKind, x, y, z float64, feed int, override float64) string {
	k := MoveKind(strings.ToUpper(string(kind)))
	if k != Rapid && k != Linear {
		k = Linear
	}
	if override <= 0 {
		override = 1.0
	}
	return fmt.Sprintf("%s X%s Y%s Z%s F%d", k, Coord(x), Coord(y), Coord(z), EffectiveFeed(feed, override))
}

// EffectiveFeed applies the speed override and clamps the result.
func EffectiveFeed(feed int, override float64) int {
	f := int(float64(feed) * override)
	return clamp(f, MinFeed, MaxFeed)
}

// Gripper builds the DO-0 gripper command for the 4th axis.
func Gripper(angle int) string {
	return fmt.Sprintf("G06 D7 S1 A%d", clamp(angle, GripperClosed, GripperOpen))
}

// Coord formats a coordinate in its shortest form ("20", "-12.5").
func Coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
