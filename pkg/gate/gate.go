// Package gate runs the detection loop that sends the arm to a fixed target
// once a cup has been seen in the ROI for enough consecutive frames.
package gate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/vision"
)

// Mover is the part of robot.Arm the gate needs.
type Mover interface {
	MoveTo(ctx context.Context, p robot.Point, feed int) (string, error)
	Simulated() bool
	Current() robot.Point
}

// State is published after every processed frame.
type State struct {
	Detection vision.Detection
	Count     int
	Required  int
	Fired     bool
	Cooldown  time.Duration // remaining
	Position  robot.Point
	Simulated bool
	Timestamp time.Time
	Error     error
}

// Config holds the controller wiring.
type Config struct {
	Source       vision.Source
	ROI          vision.ROI
	Detector     vision.Detector
	StableFrames int
	Cooldown     time.Duration
	Arm          Mover
	Target       robot.Point
	Feed         int
	Hz           int
	Logger       logrus.FieldLogger
}

type command int

const (
	cmdReset command = iota
	cmdTrigger
	cmdCapture
)

func (c command) String() string {
	switch c {
	case cmdReset:
		return "reset"
	case cmdTrigger:
		return "trigger"
	case cmdCapture:
		return "capture"
	}
	return "unknown"
}

// Controller owns the frame loop. Everything touching the debouncer and
// the detector runs on the loop goroutine.
type Controller struct {
	source   vision.Source
	roi      vision.ROI
	detector vision.Detector
	debounce *vision.Debouncer
	arm      Mover
	target   robot.Point
	feed     int
	hz       int
	logger   logrus.FieldLogger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	lastCrop image.Image
	moves    int

	stateCh chan State
	logCh   chan string
	cmdCh   chan command
}

// NewController validates cfg and returns a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("gate: no frame source")
	}
	if cfg.Detector == nil {
		return nil, errors.New("gate: no detector")
	}
	if cfg.Arm == nil {
		return nil, errors.New("gate: no arm")
	}
	if !cfg.ROI.Valid() {
		return nil, fmt.Errorf("gate: invalid roi %s", cfg.ROI)
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 15
	}
	if cfg.Feed <= 0 {
		cfg.Feed = robot.DefaultFeed
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	return &Controller{
		source:   cfg.Source,
		roi:      cfg.ROI,
		detector: cfg.Detector,
		debounce: vision.NewDebouncer(cfg.StableFrames, cfg.Cooldown),
		arm:      cfg.Arm,
		target:   cfg.Target,
		feed:     cfg.Feed,
		hz:       cfg.Hz,
		logger:   logger.WithField("component", "gate"),
		now:      time.Now,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
		cmdCh:    make(chan command, 4),
	}, nil
}

// Close releases the frame source.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return c.source.Close()
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives operator messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the frame rate of the loop.
func (c *Controller) Hz() int {
	return c.hz
}

// Required returns the consecutive frames needed to fire.
func (c *Controller) Required() int {
	return c.debounce.Required()
}

// Moves returns the number of move commands dispatched so far.
func (c *Controller) Moves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moves
}

// ResetCounter clears the consecutive-frame count.
func (c *Controller) ResetCounter() { c.enqueue(cmdReset) }

// ManualTrigger sends the arm to the target as if a cup had been detected.
func (c *Controller) ManualTrigger() { c.enqueue(cmdTrigger) }

// CaptureBackground stores the current ROI as the empty scene.
func (c *Controller) CaptureBackground() { c.enqueue(cmdCapture) }

func (c *Controller) enqueue(cmd command) {
	select {
	case c.cmdCh <- cmd:
	default:
		c.log("Busy, %s ignored", cmd)
	}
}

func (c *Controller) log(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	c.logger.Info(text)
	msg := fmt.Sprintf("[%s] %s", c.now().Format("15:04:05"), text)
	select {
	case c.logCh <- msg:
	default:
	}
}

// Start runs the loop until ctx is done or the source runs out of frames.
// Exhaustion is a normal end and returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	mode := "hardware"
	if c.arm.Simulated() {
		mode = "simulation"
	}
	c.log("Gate started at %d Hz, %d frames to fire, target %s (%s)", c.hz, c.debounce.Required(), c.target, mode)

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log("Gate stopped")
			return ctx.Err()
		case cmd := <-c.cmdCh:
			c.handle(ctx, cmd)
		case <-ticker.C:
			if err := c.step(ctx); err != nil {
				if errors.Is(err, vision.ErrSourceExhausted) {
					c.log("Frame source exhausted, %d moves sent", c.Moves())
					return nil
				}
				return err
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) {
	now := c.now()
	switch cmd {
	case cmdReset:
		c.debounce.Reset()
		c.log("Counter reset")
	case cmdTrigger:
		c.debounce.Trigger(now)
		c.log("Manual trigger")
		c.dispatch(ctx)
	case cmdCapture:
		bc, ok := c.detector.(vision.BackgroundCapturer)
		if !ok {
			c.log("Detector does not use a background")
			return
		}
		crop := c.lastCrop
		if crop == nil {
			frame, err := c.source.Read(ctx)
			if err != nil {
				c.log("Background capture failed: %v", err)
				return
			}
			crop, _ = vision.Crop(frame, c.roi)
		}
		bc.Capture(crop)
		c.debounce.Reset()
		c.log("Background captured")
	}
	c.publish(State{Count: c.debounce.Count(), Required: c.debounce.Required()}, now)
}

func (c *Controller) step(ctx context.Context) error {
	now := c.now()
	frame, err := c.source.Read(ctx)
	if err != nil {
		if errors.Is(err, vision.ErrSourceExhausted) || ctx.Err() != nil {
			return err
		}
		c.log("Frame error: %v", err)
		c.publish(State{Error: err}, now)
		return nil
	}

	crop, _ := vision.Crop(frame, c.roi)
	c.lastCrop = crop
	det := c.detector.Detect(crop)

	fired := c.debounce.Observe(det.Present, now)
	if fired {
		c.log("Cup detected (%.0f%% of ROI)", det.Ratio*100)
		c.dispatch(ctx)
	}

	c.publish(State{
		Detection: det,
		Count:     c.debounce.Count(),
		Required:  c.debounce.Required(),
		Fired:     fired,
	}, now)
	return nil
}

// dispatch sends the single move command. A failure is reported and the
// loop carries on.
func (c *Controller) dispatch(ctx context.Context) {
	c.mu.Lock()
	c.moves++
	c.mu.Unlock()

	reply, err := c.arm.MoveTo(ctx, c.target, c.feed)
	if err != nil {
		c.log("Move failed: %v", err)
		return
	}
	c.log("Moved to %s: %s", c.target, reply)
}

func (c *Controller) publish(s State, now time.Time) {
	s.Cooldown = c.debounce.Remaining(now)
	s.Position = c.arm.Current()
	s.Simulated = c.arm.Simulated()
	s.Timestamp = now
	c.sendState(s)
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// replace the stale state
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}
