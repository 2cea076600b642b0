package wash

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/vision"
)

// State is the cycle state machine position.
type State string

const (
	StateIdle          State = "idle"
	StateDetecting     State = "detecting"
	StatePickingUp     State = "picking_up"
	StateMovingToWash  State = "moving_to_wash"
	StateWashing       State = "washing"
	StateMovingToRinse State = "moving_to_rinse"
	StateRinsing       State = "rinsing"
	StateMovingToStack State = "moving_to_stack"
	StateStacking      State = "stacking"
	StateError         State = "error"
	StateEmergencyStop State = "emergency_stop"
)

// Mode selects how many cycles Run performs.
type Mode string

const (
	ModeSingle   Mode = "single_cycle"
	ModeFixed    Mode = "fixed_count"
	ModeInfinite Mode = "infinite"
)

// ParseMode accepts the full mode names and the short forms single,
// fixed and infinite.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", string(ModeSingle):
		return ModeSingle, nil
	case "fixed", string(ModeFixed):
		return ModeFixed, nil
	case string(ModeInfinite):
		return ModeInfinite, nil
	}
	return "", fmt.Errorf("unknown washing mode %q", s)
}

// Feed rates for the fixed cycle moves.
const (
	feedTravel = 200
	feedLower  = 100
	feedLift   = 150
)

const (
	defaultFrameBudget = 200
	defaultCycleGap    = 500 * time.Millisecond
	recentErrors       = 5
)

var (
	// ErrNoCup is returned when no stable detection happens within the frame budget.
	ErrNoCup = errors.New("no cup detected in pickup area")
	// ErrAlreadyRunning is returned by Run while another run is active.
	ErrAlreadyRunning = errors.New("washing already running")
)

// Config wires a Controller.
type Config struct {
	Arm      Arm
	Station  *Station
	Sensors  *Sensors
	Source   vision.Source
	ROI      vision.ROI
	Detector vision.Detector

	StableFrames int
	FrameBudget  int           // frames per detection attempt, default 200
	FrameDelay   time.Duration // pause between detection frames

	Positions robot.Positions
	Programs  ProgramLoader
	Recorder  Recorder

	WashTime  time.Duration
	RinseTime time.Duration
	CycleGap  time.Duration // between Run cycles, default 500ms, negative disables

	Logger logrus.FieldLogger
}

// RunOptions selects the Run mode.
type RunOptions struct {
	Mode    Mode
	Target  int    // cups, fixed mode only
	Program string // empty runs the taught-position cycle
}

// Status is a snapshot for display.
type Status struct {
	State           State         `json:"state"`
	Running         bool          `json:"is_running"`
	Mode            Mode          `json:"washing_mode"`
	Washed          int           `json:"washed_cups"`
	Failed          int           `json:"failed_cups"`
	Target          int           `json:"target_cups"`
	Elapsed         time.Duration `json:"elapsed_time"`
	Stats           Stats         `json:"stats"`
	Station         StationStatus `json:"station"`
	Sensors         SensorReport  `json:"sensors"`
	RecentErrors    []string      `json:"recent_errors"`
	PositionsTaught int           `json:"positions_taught"`
}

// Controller runs wash cycles.
type Controller struct {
	arm      Arm
	station  *Station
	sensors  *Sensors
	source   vision.Source
	roi      vision.ROI
	detector vision.Detector
	stable   int
	budget   int
	delay    time.Duration

	positions robot.Positions
	programs  ProgramLoader
	recorder  Recorder

	washTime  time.Duration
	rinseTime time.Duration
	gap       time.Duration

	logger  logrus.FieldLogger
	tracker *Tracker
	now     func() time.Time

	mu      sync.Mutex
	state   State
	running bool
	mode    Mode
	target  int
	washed  int
	failed  int
	started time.Time
	errs    []string
	cancel  context.CancelFunc
}

// NewController returns a controller. Station and Sensors default to fresh
// simulated instances.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Arm == nil {
		return nil, errors.New("wash: no arm")
	}
	if cfg.Source == nil || cfg.Detector == nil {
		return nil, errors.New("wash: detection needs a source and a detector")
	}
	if cfg.Station == nil {
		cfg.Station = NewStation(150, 100)
	}
	if cfg.Sensors == nil {
		cfg.Sensors = NewSensors()
	}
	if cfg.FrameBudget <= 0 {
		cfg.FrameBudget = defaultFrameBudget
	}
	if cfg.CycleGap == 0 {
		cfg.CycleGap = defaultCycleGap
	}
	if cfg.Positions == nil {
		cfg.Positions = robot.Positions{}
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	return &Controller{
		arm:       cfg.Arm,
		station:   cfg.Station,
		sensors:   cfg.Sensors,
		source:    cfg.Source,
		roi:       cfg.ROI,
		detector:  cfg.Detector,
		stable:    cfg.StableFrames,
		budget:    cfg.FrameBudget,
		delay:     cfg.FrameDelay,
		positions: cfg.Positions,
		programs:  cfg.Programs,
		recorder:  cfg.Recorder,
		washTime:  cfg.WashTime,
		rinseTime: cfg.RinseTime,
		gap:       cfg.CycleGap,
		logger:    logger.WithField("component", "wash"),
		tracker:   &Tracker{},
		now:       time.Now,
		state:     StateIdle,
		mode:      ModeSingle,
	}, nil
}

// Initialize prepares the arm when it supports it and checks the sensors.
// A failing sensor is only logged.
func (c *Controller) Initialize(ctx context.Context) error {
	if p, ok := c.arm.(interface{ Prepare(context.Context) error }); ok {
		if err := p.Prepare(ctx); err != nil {
			c.logError(fmt.Sprintf("prepare failed: %v", err), "")
			return err
		}
	}
	if !c.sensors.CheckAll() {
		c.logger.Warn("some sensors not ready, continuing")
	}
	c.logger.Info("system ready")
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.WithField("state", s).Debug("state change")
}

// DetectCup waits for a stable cup detection in the ROI. It gives up with
// ErrNoCup after the frame budget. A non-looping source that runs dry
// returns vision.ErrSourceExhausted.
func (c *Controller) DetectCup(ctx context.Context) (vision.Detection, error) {
	c.setState(StateDetecting)
	deb := vision.NewDebouncer(c.stable, 0)

	for i := 0; i < c.budget; i++ {
		frame, err := c.source.Read(ctx)
		if err != nil {
			if errors.Is(err, vision.ErrSourceExhausted) || ctx.Err() != nil {
				return vision.Detection{}, err
			}
			c.logger.WithError(err).Debug("frame read failed")
			if err := sleep(ctx, c.delay); err != nil {
				return vision.Detection{}, err
			}
			continue
		}
		crop, _ := vision.Crop(frame, c.roi)
		det := c.detector.Detect(crop)
		if deb.Observe(det.Present, c.now()) {
			dirt := vision.DirtEstimate(crop, vision.DirtColor())
			log := c.logger.WithFields(logrus.Fields{
				"ratio":  det.Ratio,
				"frames": deb.Required(),
				"dirt":   fmt.Sprintf("%.1f%%", dirt.Percentage),
			})
			if dirt.Detected {
				log.Warn("cup detected, heavy residue")
			} else {
				log.Info("cup detected")
			}
			return det, nil
		}
		if err := sleep(ctx, c.delay); err != nil {
			return vision.Detection{}, err
		}
	}
	return vision.Detection{}, fmt.Errorf("%w after %d frames", ErrNoCup, c.budget)
}

func (c *Controller) moveTo(ctx context.Context, name string, feed int) error {
	c.mu.Lock()
	p, err := c.positions.Get(name)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{"position": name, "point": p.String(), "feed": feed}).Info("moving")
	if _, err := c.arm.MoveTo(ctx, p, feed); err != nil {
		return fmt.Errorf("move to %s: %w", name, err)
	}
	return nil
}

func (c *Controller) has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions.Has(name)
}

func (c *Controller) pickUp(ctx context.Context) error {
	c.setState(StatePickingUp)
	if err := c.moveTo(ctx, robot.PosPickup, feedTravel); err != nil {
		return err
	}
	if c.has(robot.PosPickupLower) {
		if err := c.moveTo(ctx, robot.PosPickupLower, feedLower); err != nil {
			return err
		}
	}
	if _, err := c.arm.PumpOn(ctx); err != nil {
		return fmt.Errorf("pump on: %w", err)
	}
	return c.moveTo(ctx, robot.PosPickup, feedLift)
}

func (c *Controller) placeAtWash(ctx context.Context) error {
	c.setState(StateMovingToWash)
	if err := c.moveTo(ctx, robot.PosWashStation, feedTravel); err != nil {
		return err
	}
	if _, err := c.arm.PumpOff(ctx); err != nil {
		return fmt.Errorf("pump off: %w", err)
	}
	return nil
}

func (c *Controller) wash(ctx context.Context) error {
	c.setState(StateWashing)
	return c.station.Wash(ctx, c.washTime)
}

func (c *Controller) pickFromWash(ctx context.Context) error {
	if _, err := c.arm.PumpOn(ctx); err != nil {
		return fmt.Errorf("pump on: %w", err)
	}
	if c.has(robot.PosSafe) {
		return c.moveTo(ctx, robot.PosSafe, feedTravel)
	}
	return nil
}

func (c *Controller) placeAtRinse(ctx context.Context) error {
	c.setState(StateMovingToRinse)
	return c.moveTo(ctx, robot.PosRinseStation, feedTravel)
}

func (c *Controller) rinse(ctx context.Context) error {
	c.setState(StateRinsing)
	return c.station.Rinse(ctx, c.rinseTime)
}

func (c *Controller) placeAtStack(ctx context.Context) error {
	c.setState(StateMovingToStack)
	if c.has(robot.PosSafe) {
		if err := c.moveTo(ctx, robot.PosSafe, feedTravel); err != nil {
			return err
		}
	}
	if err := c.moveTo(ctx, robot.PosStack, feedTravel); err != nil {
		return err
	}
	if _, err := c.arm.PumpOff(ctx); err != nil {
		return fmt.Errorf("pump off: %w", err)
	}
	c.setState(StateStacking)
	return nil
}

// SingleCycle washes one cup using the taught positions.
func (c *Controller) SingleCycle(ctx context.Context) error {
	return c.cycle(ctx, "", func(ctx context.Context) error {
		c.mu.Lock()
		missing := c.positions.Missing(robot.CyclePositions()...)
		c.mu.Unlock()
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", robot.ErrPositionNotTaught, strings.Join(missing, ", "))
		}
		if _, err := c.DetectCup(ctx); err != nil {
			return fmt.Errorf("cup detection: %w", err)
		}
		steps := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"pickup", c.pickUp},
			{"place at wash", c.placeAtWash},
			{"wash", c.wash},
			{"pick from wash", c.pickFromWash},
			{"place at rinse", c.placeAtRinse},
			{"rinse", c.rinse},
			{"place at stack", c.placeAtStack},
		}
		for _, s := range steps {
			if err := s.fn(ctx); err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
		}
		return nil
	})
}

// ProgramCycle washes one cup by running a saved program after detection.
func (c *Controller) ProgramCycle(ctx context.Context, name string) error {
	return c.cycle(ctx, name, func(ctx context.Context) error {
		if c.programs == nil {
			return errors.New("no program store")
		}
		p, err := c.programs.LoadProgram(name)
		if err != nil {
			return fmt.Errorf("load program: %w", err)
		}
		if _, err := c.DetectCup(ctx); err != nil {
			return fmt.Errorf("cup detection: %w", err)
		}
		c.logger.WithFields(logrus.Fields{"program": name, "steps": len(p.Steps)}).Info("running program")
		return p.Run(ctx, c.arm, func(i int, s Step) {
			c.logger.WithField("program", name).Infof("step %d/%d: %s", i+1, len(p.Steps), s)
		})
	})
}

func (c *Controller) cycle(ctx context.Context, program string, body func(context.Context) error) error {
	id := uuid.NewString()
	start := c.now()

	c.mu.Lock()
	cup := c.washed + c.failed + 1
	c.mu.Unlock()
	log := c.logger.WithFields(logrus.Fields{"cycle": id, "cup": cup})
	if program != "" {
		log = log.WithField("program", program)
	}
	log.Info("cycle started")

	err := body(ctx)
	elapsed := c.now().Sub(start)

	rec := CycleRecord{
		ID:        id,
		CycleTime: elapsed.Seconds(),
		Program:   program,
		Success:   err == nil,
		Timestamp: c.now(),
	}

	c.mu.Lock()
	if err == nil {
		c.washed++
		rec.CupNumber = c.washed
		c.state = StateIdle
	} else {
		c.failed++
		rec.CupNumber = c.washed + c.failed
		rec.Error = err.Error()
		switch {
		case c.state == StateEmergencyStop:
		case errors.Is(err, context.Canceled):
			c.state = StateIdle
		default:
			c.state = StateError
		}
	}
	c.mu.Unlock()

	if err == nil {
		c.tracker.Add(elapsed)
		if program == "" {
			rec.WashDuration = c.washTime.Seconds()
			rec.RinseDuration = c.rinseTime.Seconds()
		}
		log.WithField("time", FormatDuration(elapsed)).Info("cycle complete")
	} else {
		log.WithError(err).Warn("cycle failed")
		c.logError(err.Error(), id)
	}

	if c.recorder != nil {
		if rerr := c.recorder.LogCycle(rec); rerr != nil {
			log.WithError(rerr).Error("write wash log")
		}
	}
	return err
}

func (c *Controller) logError(msg, cycleID string) {
	c.mu.Lock()
	c.errs = append(c.errs, msg)
	if n := len(c.errs); n > recentErrors {
		c.errs = c.errs[n-recentErrors:]
	}
	state := c.state
	c.mu.Unlock()

	if c.recorder == nil {
		return
	}
	err := c.recorder.LogError(ErrorRecord{
		Message:   msg,
		State:     state,
		CycleID:   cycleID,
		Timestamp: c.now(),
	})
	if err != nil {
		c.logger.WithError(err).Error("write error log")
	}
}

// Run performs cycles until the mode is satisfied, ctx is done or Stop is
// called. Failed cycles are retried after the cycle gap. An exhausted frame
// source, an untaught position or a missing program ends the run with that
// error.
func (c *Controller) Run(ctx context.Context, opts RunOptions) error {
	switch opts.Mode {
	case ModeSingle, ModeInfinite:
	case ModeFixed:
		if opts.Target < 1 {
			return fmt.Errorf("fixed count needs a target of at least 1, got %d", opts.Target)
		}
	default:
		return fmt.Errorf("unknown washing mode %q", opts.Mode)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mode = opts.Mode
	c.target = 0
	if opts.Mode == ModeFixed {
		c.target = opts.Target
	}
	c.washed, c.failed = 0, 0
	c.started = c.now()
	c.mu.Unlock()
	c.tracker.Reset()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.logger.WithFields(logrus.Fields{"mode": opts.Mode, "target": opts.Target, "program": opts.Program}).Info("washing started")

	for {
		var err error
		if opts.Program != "" {
			err = c.ProgramCycle(ctx, opts.Program)
		} else {
			err = c.SingleCycle(ctx)
		}

		if err == nil {
			c.mu.Lock()
			washed := c.washed
			c.mu.Unlock()
			if opts.Mode == ModeSingle || (opts.Mode == ModeFixed && washed >= opts.Target) {
				c.logger.WithField("washed", washed).Info("washing finished")
				return nil
			}
		} else {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, vision.ErrSourceExhausted),
				errors.Is(err, robot.ErrPositionNotTaught),
				errors.Is(err, ErrEmptyProgram),
				errors.Is(err, ErrProgramNotFound):
				return err
			}
		}

		if c.gap > 0 {
			if err := sleep(ctx, c.gap); err != nil {
				return err
			}
		}
	}
}

// Stop cancels the current run and turns the station off.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.state = StateIdle
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.station.Stop()
	c.logger.Info("washing stopped")
}

// EmergencyStop halts the arm with M112, stops any run and latches the
// emergency state.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	err := c.arm.EmergencyStop(ctx)
	c.Stop()
	c.setState(StateEmergencyStop)
	c.logError("emergency stop activated", "")
	if err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	return nil
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := Status{
		State:           c.state,
		Running:         c.running,
		Mode:            c.mode,
		Washed:          c.washed,
		Failed:          c.failed,
		Target:          c.target,
		PositionsTaught: len(c.positions),
	}
	if !c.started.IsZero() {
		s.Elapsed = c.now().Sub(c.started)
	}
	if len(c.errs) > 0 {
		s.RecentErrors = append([]string(nil), c.errs...)
	}
	c.mu.Unlock()

	s.Stats = c.tracker.Stats()
	s.Station = c.station.Status()
	s.Sensors = c.sensors.Report()
	return s
}
