package robot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/zkbot/cupwash/pkg/gcode"
)

// fakePort records written frames and answers reads from a queue.
type fakePort struct {
	mu       sync.Mutex
	writes   [][]byte
	replies  []string
	writeErr error
	readErr  error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.replies) == 0 {
		return 0, nil // timeout
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return copy(b, r), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, w := range p.writes {
		line, _ := gcode.Decode(w)
		out = append(out, line)
	}
	return out
}

func newTestArm(t *testing.T, opts ArmOptions, ports ...*fakePort) *Arm {
	t.Helper()
	logger, _ := test.NewNullLogger()
	i := 0
	opts.Dial = func(string, int) (Port, error) {
		if i >= len(ports) {
			return nil, errors.New("no such port")
		}
		p := ports[i]
		i++
		return p, nil
	}
	opts.Settle = -1
	if opts.MinInterval == 0 {
		opts.MinInterval = time.Millisecond
	}
	opts.Logger = logger
	return NewArm(opts)
}

func TestArm_NotConnected(t *testing.T) {
	arm := newTestArm(t, ArmOptions{})
	if _, err := arm.Send(context.Background(), "G28", true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before Connect = %v, want ErrNotConnected", err)
	}
}

func TestArm_MoveToWritesFrameAndTracksPosition(t *testing.T) {
	port := &fakePort{replies: []string{"ok\r\n"}}
	arm := newTestArm(t, ArmOptions{Limits: DefaultLimits()}, port)
	ctx := context.Background()

	if err := arm.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	target := Point{X: 20, Y: -20, Z: -20}
	reply, err := arm.MoveTo(ctx, target, 10)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}

	if got := string(port.writes[0]); got != "0x550xAA G00 X20 Y-20 Z-20 F10 0xAA0x55" {
		t.Errorf("frame = %q", got)
	}
	if arm.Current() != target {
		t.Errorf("Current() = %v, want %v", arm.Current(), target)
	}
}

func TestArm_MoveRejectsOutOfWorkspace(t *testing.T) {
	port := &fakePort{}
	arm := newTestArm(t, ArmOptions{Limits: DefaultLimits()}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	_, err := arm.MoveTo(ctx, Point{X: 500}, 100)
	if !errors.Is(err, ErrOutOfWorkspace) {
		t.Fatalf("MoveTo out of range = %v", err)
	}
	if len(port.writes) != 0 {
		t.Errorf("nothing should be written, got %d frames", len(port.writes))
	}
}

func TestArm_ControllerErrorKeepsPosition(t *testing.T) {
	port := &fakePort{replies: []string{"error: alarm"}}
	arm := newTestArm(t, ArmOptions{}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	_, err := arm.MoveTo(ctx, Point{X: 10}, 100)
	if !errors.Is(err, gcode.ErrControllerError) {
		t.Fatalf("err = %v, want ErrControllerError", err)
	}
	if arm.Current() != (Point{}) {
		t.Errorf("position should not change on error: %v", arm.Current())
	}
}

func TestArm_Reconnects(t *testing.T) {
	tests := []struct {
		name   string
		broken *fakePort
	}{
		{"write failure", &fakePort{writeErr: errors.New("device gone")}},
		{"read failure", &fakePort{readErr: errors.New("input/output error")}},
	}

	for _, tt := range tests {
		fresh := &fakePort{replies: []string{"ok"}}
		arm := newTestArm(t, ArmOptions{}, tt.broken, fresh)
		ctx := context.Background()
		arm.Connect(ctx)

		if _, err := arm.PumpOn(ctx); err != nil {
			t.Errorf("%s: PumpOn after reconnect: %v", tt.name, err)
			continue
		}
		if !tt.broken.closed {
			t.Errorf("%s: broken port should be closed", tt.name)
		}
		if lines := fresh.lines(); len(lines) != 1 || lines[0] != "M03" {
			t.Errorf("%s: fresh port lines = %v", tt.name, lines)
		}
		if arm.Simulated() {
			t.Errorf("%s: arm should stay on hardware", tt.name)
		}
	}
}

func TestArm_PacesFrames(t *testing.T) {
	port := &fakePort{}
	arm := newTestArm(t, ArmOptions{MinInterval: 50 * time.Millisecond}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := arm.Send(ctx, "M122", false); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	// first frame goes out at once, the next two wait one interval each
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 frames took %v, want at least 100ms of pacing", elapsed)
	}
	if len(port.lines()) != 3 {
		t.Errorf("lines = %v", port.lines())
	}
}

func TestArm_SimulatedSendHonoursCancel(t *testing.T) {
	arm := newTestArm(t, ArmOptions{Simulate: true})
	arm.Connect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := arm.MoveTo(ctx, Point{X: 20}, 100); !errors.Is(err, context.Canceled) {
		t.Errorf("MoveTo on cancelled ctx = %v, want context.Canceled", err)
	}
	if arm.Current() != (Point{}) {
		t.Errorf("position moved to %v after cancel", arm.Current())
	}
}

func TestArm_FallbackToSimulation(t *testing.T) {
	broken := &fakePort{writeErr: errors.New("device gone")}
	arm := newTestArm(t, ArmOptions{Fallback: true}, broken)
	ctx := context.Background()
	arm.Connect(ctx)

	reply, err := arm.Gripper(ctx, 90)
	if err != nil {
		t.Fatalf("Gripper: %v", err)
	}
	if !arm.Simulated() {
		t.Error("arm should have fallen back to simulation")
	}
	if !strings.Contains(reply, "simulated") {
		t.Errorf("reply = %q", reply)
	}
}

func TestArm_ConnectFailure(t *testing.T) {
	arm := newTestArm(t, ArmOptions{Port: "/dev/null0"})
	if err := arm.Connect(context.Background()); err == nil {
		t.Fatal("Connect should fail without a port")
	}

	sim := newTestArm(t, ArmOptions{Fallback: true})
	if err := sim.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with fallback: %v", err)
	}
	if !sim.Simulated() {
		t.Error("expected simulation mode")
	}
}

func TestArm_PositionQuery(t *testing.T) {
	port := &fakePort{replies: []string{"X:12.5 Y:-3 Z:40"}}
	arm := newTestArm(t, ArmOptions{}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	got := arm.Position(ctx)
	if got != (Point{X: 12.5, Y: -3, Z: 40}) {
		t.Errorf("Position() = %v", got)
	}

	// An empty reply keeps the cached position
	if again := arm.Position(ctx); again != got {
		t.Errorf("Position() after silence = %v, want %v", again, got)
	}
}

func TestArm_PrepareSequence(t *testing.T) {
	port := &fakePort{}
	arm := newTestArm(t, ArmOptions{}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	if err := arm.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	expected := []string{"M999", "M122", "G28"}
	lines := port.lines()
	if len(lines) != len(expected) {
		t.Fatalf("lines = %v, want %v", lines, expected)
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], expected[i])
		}
	}
}

func TestArm_MoveOffsetAndSpeedOverride(t *testing.T) {
	port := &fakePort{}
	arm := newTestArm(t, ArmOptions{Override: 0.5, Style: gcode.StyleBinary}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	arm.MoveLinear(ctx, Point{X: 10, Y: 10, Z: 10}, 200)
	arm.MoveOffset(ctx, Point{Z: -5}, 200)

	lines := port.lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[1] != "G01 X10 Y10 Z5 F100" {
		t.Errorf("offset move = %q", lines[1])
	}
	if port.writes[0][0] != gcode.Head0 || port.writes[0][1] != gcode.Head1 {
		t.Errorf("binary frame header = % X", port.writes[0][:2])
	}
}

func TestArm_EmergencyStopDoesNotWait(t *testing.T) {
	port := &fakePort{replies: []string{"ok"}}
	arm := newTestArm(t, ArmOptions{}, port)
	ctx := context.Background()
	arm.Connect(ctx)

	if err := arm.EmergencyStop(ctx); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if len(port.replies) != 1 {
		t.Error("EmergencyStop should not consume a reply")
	}
}
