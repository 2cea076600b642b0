// Package cupwash drives a ZKBot arm from a camera: when a cup sits in a
// chosen region of the frame for enough consecutive frames, the arm is sent
// to a target position with a framed G-code command.
//
// # Installation
//
//	go install github.com/zkbot/cupwash/cmd/cupwash@latest
//
// Camera capture and mouse ROI selection need OpenCV:
//
//	go install -tags gocv github.com/zkbot/cupwash/cmd/cupwash@latest
//
// # Usage
//
// Pick the serial port and camera, then the detection region:
//
//	cupwash setup
//	cupwash roi
//
// Run the detection gate with its live view:
//
//	cupwash gate
//
// Teach station positions and run full wash cycles:
//
//	cupwash teach
//	cupwash wash --mode fixed --count 20
//
// Without a serial port the arm runs in simulation mode and every command
// is logged instead of sent.
//
// # Packages
//
//   - cmd/cupwash: CLI
//   - pkg/gcode: command builders and wire framing
//   - pkg/robot: arm control, workspace limits, configuration
//   - pkg/vision: ROI, cup detection, debouncing, frame sources
//   - pkg/gate: detection to arm dispatch loop
//   - pkg/wash: wash station, cycles and programs
//   - pkg/storage: JSON persistence
//   - pkg/logging: file logger
package cupwash
