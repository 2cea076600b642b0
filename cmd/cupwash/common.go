package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/zkbot/cupwash/pkg/logging"
	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/vision"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// loadConfig reads the config file, applies environment overrides and
// validates the result.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("No %s found, using defaults. Run 'cupwash setup' to create one.", opts.Config)))
		cfg = robot.DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs to the configured file. console adds stderr, for commands
// that do not own the terminal.
func newLogger(cfg *robot.Config, console bool) (*logrus.Logger, error) {
	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	return logging.New(logging.Options{
		File:    cfg.LogFile,
		Level:   level,
		Console: console,
	})
}

// connectArm creates and connects the arm described by cfg.
func connectArm(ctx context.Context, cfg *robot.Config, simulate bool, logger logrus.FieldLogger) (*robot.Arm, error) {
	armOpts, err := cfg.ArmOptions()
	if err != nil {
		return nil, err
	}
	armOpts.Simulate = armOpts.Simulate || simulate
	armOpts.Logger = logger
	arm := robot.NewArm(armOpts)
	if err := arm.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect arm on %s: %w", armOpts.Port, err)
	}
	return arm, nil
}

// openSource replays frames from dir, or opens the camera when dir is empty.
func openSource(cfg *robot.Config, dir string, loop bool) (vision.Source, error) {
	if dir != "" {
		return vision.NewDirSource(dir, loop)
	}
	indices := vision.DefaultCameraIndices
	if cfg.Vision.Camera > 0 {
		indices = append([]int{cfg.Vision.Camera}, indices...)
	}
	cam, err := vision.OpenCamera(indices, cfg.Vision.Width, cfg.Vision.Height)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

// newDetector builds the configured presence detector.
func newDetector(cfg *robot.Config) vision.Detector {
	if cfg.Vision.Detector == "background" {
		return &vision.BackgroundDetector{MinAreaRatio: cfg.Vision.MinAreaRatio}
	}
	return &vision.ColorDetector{
		Range:        cfg.Vision.Color,
		MinAreaRatio: cfg.Vision.MinAreaRatio,
		Blur:         cfg.Vision.Blur,
	}
}
