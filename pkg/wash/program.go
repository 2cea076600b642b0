package wash

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zkbot/cupwash/pkg/robot"
)

// Step commands.
const (
	CmdRapid   = "G00"
	CmdLinear  = "G01"
	CmdGripper = "GRIPPER"
	CmdPumpOn  = "PUMP_ON"
	CmdPumpOff = "PUMP_OFF"
	CmdWait    = "WAIT"
)

const (
	defaultStepFeed   = 100
	defaultGripper    = 90
	defaultWaitPause  = time.Second
	maxProgramNameLen = 50
)

var (
	// ErrUnknownCommand is returned for a step command outside the set above.
	ErrUnknownCommand = errors.New("unknown step command")
	// ErrEmptyProgram is returned when running a program without steps.
	ErrEmptyProgram = errors.New("program has no steps")
	// ErrProgramNotFound is returned by a ProgramLoader for an unknown name.
	ErrProgramNotFound = errors.New("program not found")
)

var programName = regexp.MustCompile(`^[a-zA-Z0-9_\- ]+$`)

// Step is one program instruction.
type Step struct {
	Cmd      string  `json:"cmd" validate:"required"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Z        float64 `json:"z,omitempty"`
	Feedrate int     `json:"feedrate,omitempty" validate:"min=0,max=500"`
	Angle    *int    `json:"angle,omitempty" validate:"omitempty,min=0,max=180"`
	Pause    float64 `json:"pause,omitempty" validate:"min=0"` // seconds
}

// Point returns the step target.
func (s Step) Point() robot.Point {
	return robot.Point{X: s.X, Y: s.Y, Z: s.Z}
}

func (s Step) feed() int {
	if s.Feedrate <= 0 {
		return defaultStepFeed
	}
	return s.Feedrate
}

func (s Step) angle() int {
	if s.Angle == nil {
		return defaultGripper
	}
	return *s.Angle
}

func (s Step) pause() time.Duration {
	return time.Duration(s.Pause * float64(time.Second))
}

func (s Step) String() string {
	switch s.Cmd {
	case CmdRapid, CmdLinear:
		return fmt.Sprintf("%s %s F%d", s.Cmd, s.Point(), s.feed())
	case CmdGripper:
		return fmt.Sprintf("%s %d", s.Cmd, s.angle())
	case CmdWait:
		return fmt.Sprintf("%s %gs", s.Cmd, s.Pause)
	}
	return s.Cmd
}

// Program is a named, taught sequence of steps.
type Program struct {
	Name         string     `json:"name" validate:"progname"`
	Description  string     `json:"description,omitempty"`
	Steps        []Step     `json:"steps" validate:"dive"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("progname", func(fl validator.FieldLevel) bool {
		return ValidateProgramName(fl.Field().String()) == nil
	})
	if err != nil {
		panic(fmt.Sprintf("register progname validation: %v", err))
	}
	err = v.RegisterValidation("stepcmd", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case CmdRapid, CmdLinear, CmdGripper, CmdPumpOn, CmdPumpOff, CmdWait:
			return true
		}
		return false
	})
	if err != nil {
		panic(fmt.Sprintf("register stepcmd validation: %v", err))
	}
	return v
}

// ValidateProgramName checks the name is 1-50 letters, digits, spaces,
// underscores or dashes.
func ValidateProgramName(name string) error {
	switch {
	case name == "":
		return errors.New("program name cannot be empty")
	case len(name) > maxProgramNameLen:
		return fmt.Errorf("program name longer than %d characters", maxProgramNameLen)
	case !programName.MatchString(name):
		return fmt.Errorf("program name %q contains invalid characters", name)
	}
	return nil
}

// Validate checks the name and every step.
func (p *Program) Validate() error {
	if err := ValidateProgramName(p.Name); err != nil {
		return err
	}
	for i, s := range p.Steps {
		if err := validate.Var(s.Cmd, "stepcmd"); err != nil {
			return fmt.Errorf("step %d: %w: %q", i+1, ErrUnknownCommand, s.Cmd)
		}
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid program: %w", err)
	}
	return nil
}

// Arm is the set of arm commands a wash cycle uses.
type Arm interface {
	MoveTo(ctx context.Context, p robot.Point, feed int) (string, error)
	MoveLinear(ctx context.Context, p robot.Point, feed int) (string, error)
	Gripper(ctx context.Context, angle int) (string, error)
	PumpOn(ctx context.Context) (string, error)
	PumpOff(ctx context.Context) (string, error)
	EmergencyStop(ctx context.Context) error
}

// Run executes the steps in order. The first failing step stops the run.
// progress is called before each step and may be nil.
func (p *Program) Run(ctx context.Context, arm Arm, progress func(i int, s Step)) error {
	if len(p.Steps) == 0 {
		return ErrEmptyProgram
	}
	for i, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(i, s)
		}
		if err := runStep(ctx, arm, s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s.Cmd, err)
		}
		if s.Cmd != CmdWait && s.Pause > 0 {
			if err := sleep(ctx, s.pause()); err != nil {
				return err
			}
		}
	}
	return nil
}

func runStep(ctx context.Context, arm Arm, s Step) error {
	var err error
	switch s.Cmd {
	case CmdRapid:
		_, err = arm.MoveTo(ctx, s.Point(), s.feed())
	case CmdLinear:
		_, err = arm.MoveLinear(ctx, s.Point(), s.feed())
	case CmdGripper:
		_, err = arm.Gripper(ctx, s.angle())
	case CmdPumpOn:
		_, err = arm.PumpOn(ctx)
	case CmdPumpOff:
		_, err = arm.PumpOff(ctx)
	case CmdWait:
		d := s.pause()
		if d <= 0 {
			d = defaultWaitPause
		}
		err = sleep(ctx, d)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, s.Cmd)
	}
	return err
}
