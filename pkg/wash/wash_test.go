package wash

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/vision"
)

var positions = robot.Positions{
	robot.PosPickup:       {X: 1},
	robot.PosPickupLower:  {X: 2},
	robot.PosWashStation:  {X: 3},
	robot.PosRinseStation: {X: 4},
	robot.PosStack:        {X: 5},
	robot.PosSafe:         {X: 6},
}

func nameOf(p robot.Point) string {
	for n, q := range positions {
		if q == p {
			return n
		}
	}
	return p.String()
}

type fakeArm struct {
	mu        sync.Mutex
	calls     []string
	failMoves int
}

func (a *fakeArm) record(s string) {
	a.mu.Lock()
	a.calls = append(a.calls, s)
	a.mu.Unlock()
}

func (a *fakeArm) move(kind string, p robot.Point) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failMoves > 0 {
		a.failMoves--
		return "", errors.New("controller error")
	}
	a.calls = append(a.calls, kind+" "+nameOf(p))
	return "ok", nil
}

func (a *fakeArm) MoveTo(ctx context.Context, p robot.Point, feed int) (string, error) {
	return a.move("G00", p)
}

func (a *fakeArm) MoveLinear(ctx context.Context, p robot.Point, feed int) (string, error) {
	return a.move("G01", p)
}

func (a *fakeArm) Gripper(ctx context.Context, angle int) (string, error) {
	a.record(fmt.Sprintf("gripper %d", angle))
	return "ok", nil
}

func (a *fakeArm) PumpOn(ctx context.Context) (string, error) {
	a.record("pump on")
	return "ok", nil
}

func (a *fakeArm) PumpOff(ctx context.Context) (string, error) {
	a.record("pump off")
	return "ok", nil
}

func (a *fakeArm) EmergencyStop(ctx context.Context) error {
	a.record("M112")
	return nil
}

func (a *fakeArm) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type memRecorder struct {
	mu     sync.Mutex
	cycles []CycleRecord
	errs   []ErrorRecord
}

func (r *memRecorder) LogCycle(rec CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, rec)
	return nil
}

func (r *memRecorder) LogError(rec ErrorRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, rec)
	return nil
}

type memPrograms map[string]*Program

func (m memPrograms) LoadProgram(name string) (*Program, error) {
	p, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProgramNotFound, name)
	}
	return p, nil
}

func fill(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var (
	cupFrame   = fill(color.RGBA{240, 240, 240, 255})
	emptyFrame = fill(color.RGBA{30, 30, 30, 255})
)

func newTestController(t *testing.T, arm Arm, src vision.Source, rec Recorder, mut func(*Config)) *Controller {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := Config{
		Arm:          arm,
		Source:       src,
		ROI:          vision.ROI{W: 8, H: 8},
		Detector:     &vision.ColorDetector{Range: vision.DefaultCupColor(), MinAreaRatio: 0.5},
		StableFrames: 2,
		Positions:    positions,
		Recorder:     rec,
		WashTime:     time.Millisecond,
		RinseTime:    time.Millisecond,
		CycleGap:     -1,
		Logger:       logger,
	}
	if mut != nil {
		mut(&cfg)
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestController_SingleCycle(t *testing.T) {
	arm := &fakeArm{}
	rec := &memRecorder{}
	c := newTestController(t, arm, vision.NewFrames(false, emptyFrame, cupFrame, cupFrame), rec, nil)

	if err := c.SingleCycle(context.Background()); err != nil {
		t.Fatalf("SingleCycle: %v", err)
	}

	want := []string{
		"G00 pickup", "G00 pickup_lower", "pump on", "G00 pickup",
		"G00 wash_station", "pump off",
		"pump on", "G00 safe",
		"G00 rinse_station",
		"G00 safe", "G00 stack", "pump off",
	}
	if got := arm.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("arm calls:\n got %v\nwant %v", got, want)
	}

	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
	if len(rec.cycles) != 1 {
		t.Fatalf("cycle records = %d", len(rec.cycles))
	}
	r := rec.cycles[0]
	if !r.Success || r.ID == "" || r.CupNumber != 1 || r.WashDuration != 0.001 {
		t.Errorf("cycle record = %+v", r)
	}
	if st := c.Status(); st.Washed != 1 || st.Station.CyclesDone != 1 || st.Stats.Cycles != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestController_SingleCycleMissingPositions(t *testing.T) {
	arm := &fakeArm{}
	rec := &memRecorder{}
	c := newTestController(t, arm, vision.NewFrames(true, cupFrame), rec, func(cfg *Config) {
		cfg.Positions = robot.Positions{robot.PosPickup: {X: 1}}
	})

	err := c.SingleCycle(context.Background())
	if !errors.Is(err, robot.ErrPositionNotTaught) {
		t.Fatalf("err = %v, want ErrPositionNotTaught", err)
	}
	if len(arm.Calls()) != 0 {
		t.Errorf("arm moved: %v", arm.Calls())
	}
	if c.State() != StateError {
		t.Errorf("state = %s", c.State())
	}
	if len(rec.cycles) != 1 || rec.cycles[0].Success || len(rec.errs) != 1 {
		t.Errorf("records: cycles %+v errors %+v", rec.cycles, rec.errs)
	}
	if rec.errs[0].CycleID != rec.cycles[0].ID {
		t.Error("error record should carry the cycle id")
	}
}

func TestController_DetectCup(t *testing.T) {
	tests := []struct {
		name    string
		src     vision.Source
		budget  int
		wantErr error
	}{
		{"stable detection", vision.NewFrames(false, cupFrame, cupFrame), 10, nil},
		{"budget exhausted", vision.NewFrames(true, emptyFrame), 5, ErrNoCup},
		{"interrupted run", vision.NewFrames(true, cupFrame, emptyFrame), 6, ErrNoCup},
		{"source exhausted", vision.NewFrames(false, cupFrame), 10, vision.ErrSourceExhausted},
	}

	for _, tt := range tests {
		c := newTestController(t, &fakeArm{}, tt.src, nil, func(cfg *Config) {
			cfg.FrameBudget = tt.budget
		})
		det, err := c.DetectCup(context.Background())
		if tt.wantErr == nil {
			if err != nil || !det.Present {
				t.Errorf("%s: det %+v err %v", tt.name, det, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestController_ProgramCycle(t *testing.T) {
	angle := 45
	prog := &Program{
		Name: "quick rinse",
		Steps: []Step{
			{Cmd: CmdRapid, X: 1},
			{Cmd: CmdGripper, Angle: &angle},
			{Cmd: CmdPumpOn, Pause: 0.001},
			{Cmd: CmdWait, Pause: 0.001},
			{Cmd: CmdLinear, X: 3},
			{Cmd: CmdPumpOff},
		},
	}
	arm := &fakeArm{}
	rec := &memRecorder{}
	c := newTestController(t, arm, vision.NewFrames(true, cupFrame), rec, func(cfg *Config) {
		cfg.Programs = memPrograms{"quick rinse": prog}
	})

	if err := c.ProgramCycle(context.Background(), "quick rinse"); err != nil {
		t.Fatalf("ProgramCycle: %v", err)
	}
	want := []string{"G00 pickup", "gripper 45", "pump on", "G01 wash_station", "pump off"}
	if got := arm.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("arm calls = %v, want %v", got, want)
	}
	if rec.cycles[0].Program != "quick rinse" || rec.cycles[0].WashDuration != 0 {
		t.Errorf("record = %+v", rec.cycles[0])
	}

	if err := c.ProgramCycle(context.Background(), "missing"); err == nil {
		t.Error("unknown program should fail")
	}
}

func TestController_RunFixedCount(t *testing.T) {
	arm := &fakeArm{}
	rec := &memRecorder{}
	c := newTestController(t, arm, vision.NewFrames(true, cupFrame), rec, nil)

	if err := c.Run(context.Background(), RunOptions{Mode: ModeFixed, Target: 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := c.Status()
	if st.Washed != 3 || st.Failed != 0 || st.Running || st.Target != 3 {
		t.Errorf("status = %+v", st)
	}
	if len(rec.cycles) != 3 {
		t.Errorf("cycle records = %d", len(rec.cycles))
	}
}

func TestController_RunRetriesFailedCycle(t *testing.T) {
	arm := &fakeArm{failMoves: 1}
	c := newTestController(t, arm, vision.NewFrames(true, cupFrame), &memRecorder{}, nil)

	if err := c.Run(context.Background(), RunOptions{Mode: ModeSingle}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := c.Status()
	if st.Washed != 1 || st.Failed != 1 {
		t.Errorf("washed %d failed %d, want 1 and 1", st.Washed, st.Failed)
	}
	if len(st.RecentErrors) != 1 {
		t.Errorf("recent errors = %v", st.RecentErrors)
	}
}

func TestController_RunStopsOnExhaustedSource(t *testing.T) {
	c := newTestController(t, &fakeArm{}, vision.NewFrames(false, emptyFrame), nil, nil)

	err := c.Run(context.Background(), RunOptions{Mode: ModeInfinite})
	if !errors.Is(err, vision.ErrSourceExhausted) {
		t.Errorf("Run = %v, want ErrSourceExhausted", err)
	}
}

func TestController_RunStopsOnMissingProgram(t *testing.T) {
	c := newTestController(t, &fakeArm{}, vision.NewFrames(true, cupFrame), nil, func(cfg *Config) {
		cfg.Programs = memPrograms{}
	})

	err := c.Run(context.Background(), RunOptions{Mode: ModeInfinite, Program: "gone"})
	if !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("Run = %v, want ErrProgramNotFound", err)
	}
}

func TestController_RunValidation(t *testing.T) {
	c := newTestController(t, &fakeArm{}, vision.NewFrames(false), nil, nil)
	if err := c.Run(context.Background(), RunOptions{Mode: ModeFixed}); err == nil {
		t.Error("fixed mode without target should fail")
	}
	if err := c.Run(context.Background(), RunOptions{Mode: "forever"}); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestController_StopCancelsRun(t *testing.T) {
	c := newTestController(t, &fakeArm{}, vision.NewFrames(true, emptyFrame), nil, func(cfg *Config) {
		cfg.FrameDelay = time.Millisecond
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), RunOptions{Mode: ModeInfinite}) }()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestController_EmergencyStop(t *testing.T) {
	arm := &fakeArm{}
	rec := &memRecorder{}
	c := newTestController(t, arm, vision.NewFrames(false), rec, nil)

	if err := c.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if got := arm.Calls(); len(got) != 1 || got[0] != "M112" {
		t.Errorf("arm calls = %v", got)
	}
	if c.State() != StateEmergencyStop {
		t.Errorf("state = %s", c.State())
	}
	if len(rec.errs) != 1 || rec.errs[0].State != StateEmergencyStop {
		t.Errorf("error log = %+v", rec.errs)
	}
}

func TestController_RecentErrorsBounded(t *testing.T) {
	c := newTestController(t, &fakeArm{}, vision.NewFrames(false), nil, nil)
	for i := 0; i < 3*recentErrors; i++ {
		c.logError(fmt.Sprintf("error %d", i), "")
	}
	if n := len(c.errs); n != recentErrors {
		t.Errorf("kept %d errors, want %d", n, recentErrors)
	}
	st := c.Status()
	if got := st.RecentErrors[len(st.RecentErrors)-1]; got != fmt.Sprintf("error %d", 3*recentErrors-1) {
		t.Errorf("newest error = %q", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"single", ModeSingle},
		{"single_cycle", ModeSingle},
		{"fixed", ModeFixed},
		{"fixed_count", ModeFixed},
		{" Infinite ", ModeInfinite},
	}
	for _, tt := range tests {
		if got, err := ParseMode(tt.in); err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseMode("twice"); err == nil {
		t.Error("expected error")
	}
}
