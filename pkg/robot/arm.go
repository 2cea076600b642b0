package robot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/zkbot/cupwash/pkg/gcode"
)

// ErrNotConnected is returned when a command is sent before Connect.
var ErrNotConnected = errors.New("arm not connected")

const (
	DefaultBaud         = 115200
	DefaultFeed         = 100
	defaultReplyTimeout = 2 * time.Second
	defaultSettle       = 500 * time.Millisecond
	defaultMinInterval  = 50 * time.Millisecond
	replyBufferSize     = 100
	simulatedReply      = "ok (simulated)"
)

// Port is the serial link to the controller. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Dialer opens a Port.
type Dialer func(name string, baud int) (Port, error)

// SerialDialer opens an 8N1 serial port.
func SerialDialer(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ArmOptions configures an Arm.
type ArmOptions struct {
	Port     string
	Baud     int
	Style    gcode.Style
	Limits   Limits
	Override float64 // speed override multiplier, 1.0 = 100%

	// Simulate skips the serial port entirely.
	Simulate bool
	// Fallback switches to simulation when the port cannot be (re)opened.
	Fallback bool

	ReplyTimeout time.Duration
	Settle       time.Duration // wait after open; negative disables
	MinInterval  time.Duration // minimum gap between frames

	Dial   Dialer
	Logger logrus.FieldLogger
}

// Arm is a ZKBot arm driven by framed G-code.
type Arm struct {
	opts    ArmOptions
	log     logrus.FieldLogger
	limiter *rate.Limiter

	mu        sync.Mutex
	port      Port
	connected bool
	simulated bool
	pos       Point
}

// NewArm creates an arm. Call Connect before sending commands.
func NewArm(opts ArmOptions) *Arm {
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	if opts.Style == "" {
		opts.Style = gcode.StyleText
	}
	if opts.Override <= 0 {
		opts.Override = 1.0
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = defaultReplyTimeout
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	} else if opts.Settle == 0 {
		opts.Settle = defaultSettle
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.Dial == nil {
		opts.Dial = SerialDialer
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Arm{
		opts:    opts,
		log:     log.WithField("port", opts.Port),
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
	}
}

// Connect opens the serial port. In simulation mode, or when the port
// fails and Fallback is set, the arm runs without hardware.
func (a *Arm) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.Simulate {
		a.enterSimulation("simulation requested")
		return nil
	}

	if err := a.dial(ctx); err != nil {
		if a.opts.Fallback {
			a.enterSimulation(err.Error())
			return nil
		}
		return fmt.Errorf("connect %s: %w", a.opts.Port, err)
	}

	a.log.WithField("baud", a.opts.Baud).Info("connected to ZKBot")
	return nil
}

func (a *Arm) dial(ctx context.Context) error {
	p, err := a.opts.Dial(a.opts.Port, a.opts.Baud)
	if err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	if err := p.SetReadTimeout(a.opts.ReplyTimeout); err != nil {
		p.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	// Controller resets on open
	select {
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	case <-time.After(a.opts.Settle):
	}

	a.port = p
	a.connected = true
	return nil
}

func (a *Arm) enterSimulation(reason string) {
	if a.port != nil {
		a.port.Close()
		a.port = nil
	}
	a.simulated = true
	a.connected = true
	a.log.WithField("reason", reason).Warn("arm running in simulation mode")
}

// Close closes the serial port.
func (a *Arm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = false
	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	return err
}

// Connected reports whether commands can be sent.
func (a *Arm) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Simulated reports whether the arm runs without hardware.
func (a *Arm) Simulated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.simulated
}

// Current returns the last commanded or queried position.
func (a *Arm) Current() Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

// Send frames and writes one G-code line. With wait set it reads and
// interprets the reply. A failed exchange triggers one reconnect.
func (a *Arm) Send(ctx context.Context, line string, wait bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.send(ctx, line, wait)
}

func (a *Arm) send(ctx context.Context, line string, wait bool) (string, error) {
	if !a.connected {
		return "", ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.simulated {
		a.log.WithField("cmd", line).Debug("simulated send")
		return simulatedReply, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reply, err := a.exchange(line, wait)
	if err == nil || errors.Is(err, gcode.ErrControllerError) {
		return reply, err
	}

	a.log.WithError(err).WithField("cmd", line).Warn("serial exchange failed, reconnecting")
	if a.port != nil {
		a.port.Close()
		a.port = nil
	}
	if derr := a.dial(ctx); derr != nil {
		if a.opts.Fallback {
			a.enterSimulation(derr.Error())
			return simulatedReply, nil
		}
		a.connected = false
		return "", fmt.Errorf("reconnect after %v: %w", err, derr)
	}
	return a.exchange(line, wait)
}

func (a *Arm) exchange(line string, wait bool) (string, error) {
	frame := gcode.Encode(a.opts.Style, line)
	n, err := a.port.Write(frame)
	if err != nil {
		return "", fmt.Errorf("write %q: %w", line, err)
	}
	a.log.WithFields(logrus.Fields{"cmd": line, "bytes": n}).Debug("sent")

	if !wait {
		return "ok", nil
	}

	buf := make([]byte, replyBufferSize)
	n, err = a.port.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read reply to %q: %w", line, err)
	}
	a.log.WithFields(logrus.Fields{"cmd": line, "reply": string(buf[:n])}).Debug("reply")
	return gcode.ParseReply(buf[:n])
}

// Home runs G28 and resets the tracked position.
func (a *Arm) Home(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reply, err := a.send(ctx, gcode.Home(), true)
	if err != nil {
		return reply, fmt.Errorf("home: %w", err)
	}
	a.pos = Point{}
	return reply, nil
}

// MoveTo moves point-to-point (G00).
func (a *Arm) MoveTo(ctx context.Context, p Point, feed int) (string, error) {
	return a.move(ctx, gcode.Rapid, p, feed)
}

// MoveLinear moves in a straight line (G01).
func (a *Arm) MoveLinear(ctx context.Context, p Point, feed int) (string, error) {
	return a.move(ctx, gcode.Linear, p, feed)
}

// MoveOffset moves linearly relative to the tracked position.
func (a *Arm) MoveOffset(ctx context.Context, d Point, feed int) (string, error) {
	return a.MoveLinear(ctx, a.Current().Add(d), feed)
}

func (a *Arm) move(ctx context.Context, kind gcode.MoveKind, p Point, feed int) (string, error) {
	if err := a.opts.Limits.Check(p); err != nil {
		return "", err
	}
	if feed <= 0 {
		feed = DefaultFeed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reply, err := a.send(ctx, gcode.Move(kind, p.X, p.Y, p.Z, feed, a.opts.Override), true)
	if err != nil {
		return reply, fmt.Errorf("move to %v: %w", p, err)
	}
	a.pos = p
	return reply, nil
}

// Gripper sets the gripper angle (0 closed, 180 open).
func (a *Arm) Gripper(ctx context.Context, angle int) (string, error) {
	return a.Send(ctx, gcode.Gripper(angle), true)
}

// PumpOn activates the vacuum pump.
func (a *Arm) PumpOn(ctx context.Context) (string, error) {
	return a.Send(ctx, gcode.PumpOn(), true)
}

// PumpOff releases the vacuum pump.
func (a *Arm) PumpOff(ctx context.Context) (string, error) {
	return a.Send(ctx, gcode.PumpOff(), true)
}

// ResetErrors clears controller alarms.
func (a *Arm) ResetErrors(ctx context.Context) (string, error) {
	return a.Send(ctx, gcode.ResetErrors(), true)
}

// CheckEstop queries the E-stop state.
func (a *Arm) CheckEstop(ctx context.Context) (string, error) {
	return a.Send(ctx, gcode.CheckEstop(), true)
}

// EmergencyStop sends M112 without waiting for a reply.
func (a *Arm) EmergencyStop(ctx context.Context) error {
	_, err := a.Send(ctx, gcode.EmergencyStop(), false)
	return err
}

// Position queries the controller. On failure it returns the tracked position.
func (a *Arm) Position(ctx context.Context) Point {
	a.mu.Lock()
	defer a.mu.Unlock()

	reply, err := a.send(ctx, gcode.QueryPosition(), true)
	if err != nil {
		a.log.WithError(err).Warn("position query failed")
		return a.pos
	}
	if x, y, z, ok := gcode.ParsePosition(reply); ok {
		a.pos = Point{X: x, Y: y, Z: z}
	}
	return a.pos
}

// Prepare clears errors, checks the E-stop and homes the arm. Only a
// failed home is fatal.
func (a *Arm) Prepare(ctx context.Context) error {
	if _, err := a.ResetErrors(ctx); err != nil {
		a.log.WithError(err).Warn("reset errors failed")
	}
	if reply, err := a.CheckEstop(ctx); err != nil {
		a.log.WithError(err).Warn("E-stop check failed, check the E-stop button")
	} else {
		a.log.WithField("reply", reply).Info("E-stop OK")
	}
	if _, err := a.Home(ctx); err != nil {
		return err
	}
	return nil
}
