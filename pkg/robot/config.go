package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zkbot/cupwash/pkg/gcode"
	"github.com/zkbot/cupwash/pkg/vision"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "cupwash.json"

// Environment overrides, applied after the config file is read.
const (
	EnvPort     = "CUPWASH_PORT"
	EnvBaud     = "CUPWASH_BAUD"
	EnvSimulate = "CUPWASH_SIMULATE"
)

// Config holds the station configuration
type Config struct {
	Robot   RobotConfig  `json:"robot"`
	Vision  VisionConfig `json:"vision"`
	Target  Point        `json:"target"`
	Limits  Limits       `json:"limits"`
	Wash    WashConfig   `json:"wash"`
	DataDir string       `json:"data_dir" validate:"required"`
	LogFile string       `json:"log_file"`
}

// RobotConfig holds the serial link settings
type RobotConfig struct {
	Port          string  `json:"port" validate:"required"`
	Baud          int     `json:"baud" validate:"oneof=9600 19200 38400 57600 115200 250000"`
	Feed          int     `json:"feed" validate:"min=1,max=500"`
	SpeedOverride float64 `json:"speed_override" validate:"gt=0,lte=2"`
	FrameStyle    string  `json:"frame_style" validate:"omitempty,oneof=text binary raw"`
	Simulate      bool    `json:"simulate"`
	Fallback      bool    `json:"fallback"`
}

// VisionConfig holds camera and cup detection settings
type VisionConfig struct {
	Camera       int               `json:"camera" validate:"min=0"`
	Width        int               `json:"width" validate:"min=1"`
	Height       int               `json:"height" validate:"min=1"`
	ROI          vision.ROI        `json:"roi"`
	Color        vision.ColorRange `json:"color"`
	MinAreaRatio float64           `json:"min_area_ratio" validate:"gt=0,lte=1"`
	Blur         float64           `json:"blur" validate:"min=0"`
	Detector     string            `json:"detector" validate:"oneof=color background"`
	StableFrames int               `json:"stable_frames" validate:"min=1"`
	CooldownMS   int               `json:"cooldown_ms" validate:"min=0"`
	Hz           int               `json:"hz" validate:"min=1,max=120"`
}

// Cooldown returns the post-fire cooldown.
func (v VisionConfig) Cooldown() time.Duration {
	return time.Duration(v.CooldownMS) * time.Millisecond
}

// WashConfig holds wash station timing
type WashConfig struct {
	ArmSpeed     int `json:"arm_speed" validate:"min=1,max=500"`
	WashSeconds  int `json:"wash_seconds" validate:"min=1,max=300"`
	RinseSeconds int `json:"rinse_seconds" validate:"min=1,max=300"`
	BrushSpeed   int `json:"brush_speed" validate:"min=0,max=255"`
	WaterFlow    int `json:"water_flow" validate:"min=0,max=255"`
}

// DefaultConfig returns the configuration used by the bench test rig.
func DefaultConfig() *Config {
	return &Config{
		Robot: RobotConfig{
			Port:          "/dev/ttyUSB0",
			Baud:          DefaultBaud,
			Feed:          10,
			SpeedOverride: 1.0,
			FrameStyle:    string(gcode.StyleText),
			Fallback:      true,
		},
		Vision: VisionConfig{
			Camera:       0,
			Width:        640,
			Height:       480,
			ROI:          vision.ROI{X: 220, Y: 120, W: 200, H: 200},
			Color:        vision.DefaultCupColor(),
			MinAreaRatio: 0.25,
			Detector:     "color",
			StableFrames: 8,
			CooldownMS:   3000,
			Hz:           15,
		},
		Target: Point{X: 20, Y: -20, Z: -20},
		Limits: DefaultLimits(),
		Wash: WashConfig{
			ArmSpeed:     300,
			WashSeconds:  3,
			RinseSeconds: 2,
			BrushSpeed:   150,
			WaterFlow:    100,
		},
		DataDir: "data",
		LogFile: "data/logs/cupwash.log",
	}
}

// Validate checks field ranges and the target against the workspace.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Limits.Check(c.Target); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		c.Robot.Port = v
	}
	if v := os.Getenv(EnvBaud); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBaud, err)
		}
		c.Robot.Baud = baud
	}
	if v := os.Getenv(EnvSimulate); v != "" {
		sim, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSimulate, err)
		}
		c.Robot.Simulate = sim
	}
	return nil
}

// ArmOptions builds arm options from the config.
func (c *Config) ArmOptions() (ArmOptions, error) {
	style, err := gcode.ParseStyle(c.Robot.FrameStyle)
	if err != nil {
		return ArmOptions{}, err
	}
	return ArmOptions{
		Port:     c.Robot.Port,
		Baud:     c.Robot.Baud,
		Style:    style,
		Limits:   c.Limits,
		Override: c.Robot.SpeedOverride,
		Simulate: c.Robot.Simulate,
		Fallback: c.Robot.Fallback,
	}, nil
}

// LoadConfigFrom loads configuration from a specific file. Missing fields
// keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
