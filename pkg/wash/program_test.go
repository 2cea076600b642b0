package wash

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateProgramName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"default_program", true},
		{"Quick rinse-2", true},
		{"", false},
		{strings.Repeat("a", 51), false},
		{"bad/name", false},
		{"naïve", false},
	}
	for _, tt := range tests {
		if err := ValidateProgramName(tt.name); (err == nil) != tt.valid {
			t.Errorf("ValidateProgramName(%q) = %v, want valid=%v", tt.name, err, tt.valid)
		}
	}
}

func TestProgram_Validate(t *testing.T) {
	bad := 200
	tests := []struct {
		name    string
		prog    Program
		wantErr bool
	}{
		{"ok", Program{Name: "p", Steps: []Step{{Cmd: CmdRapid, Feedrate: 200}, {Cmd: CmdWait, Pause: 1}}}, false},
		{"unknown command", Program{Name: "p", Steps: []Step{{Cmd: "G28"}}}, true},
		{"feed too high", Program{Name: "p", Steps: []Step{{Cmd: CmdLinear, Feedrate: 900}}}, true},
		{"gripper angle", Program{Name: "p", Steps: []Step{{Cmd: CmdGripper, Angle: &bad}}}, true},
		{"negative pause", Program{Name: "p", Steps: []Step{{Cmd: CmdPumpOn, Pause: -1}}}, true},
		{"bad name", Program{Name: "p?", Steps: []Step{{Cmd: CmdPumpOn}}}, true},
	}
	for _, tt := range tests {
		err := tt.prog.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}

	err := (&Program{Name: "p", Steps: []Step{{Cmd: "JUMP"}}}).Validate()
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v", err)
	}
}

func TestProgram_RunErrors(t *testing.T) {
	arm := &fakeArm{}
	if err := (&Program{Name: "empty"}).Run(context.Background(), arm, nil); !errors.Is(err, ErrEmptyProgram) {
		t.Errorf("empty program = %v", err)
	}

	p := &Program{Name: "p", Steps: []Step{{Cmd: CmdPumpOn}, {Cmd: "JUMP"}, {Cmd: CmdPumpOff}}}
	err := p.Run(context.Background(), arm, nil)
	if !errors.Is(err, ErrUnknownCommand) || !strings.Contains(err.Error(), "step 2") {
		t.Errorf("Run = %v", err)
	}
	if calls := arm.Calls(); len(calls) != 1 {
		t.Errorf("steps after the failure ran: %v", calls)
	}

	failing := &fakeArm{failMoves: 1}
	err = (&Program{Name: "p", Steps: []Step{{Cmd: CmdRapid}}}).Run(context.Background(), failing, nil)
	if err == nil || !strings.Contains(err.Error(), "step 1 (G00)") {
		t.Errorf("failed move = %v", err)
	}
}

func TestProgram_RunWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Program{Name: "p", Steps: []Step{{Cmd: CmdWait, Pause: 10}}}
	if err := p.Run(ctx, &fakeArm{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestProgram_RunStopsMovesWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	arm := &fakeArm{}
	p := &Program{Name: "p", Steps: []Step{
		{Cmd: CmdRapid, X: 10},
		{Cmd: CmdLinear, X: 20},
		{Cmd: CmdPumpOn},
	}}
	if err := p.Run(ctx, arm, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if calls := arm.Calls(); len(calls) != 0 {
		t.Errorf("arm calls after cancel = %v", calls)
	}
}

func TestStep_Defaults(t *testing.T) {
	s := Step{Cmd: CmdRapid, X: 10}
	if s.feed() != 100 || s.angle() != 90 {
		t.Errorf("defaults: feed %d angle %d", s.feed(), s.angle())
	}
	if got := s.String(); got != "G00 X=10.0 Y=0.0 Z=0.0 F100" {
		t.Errorf("String() = %q", got)
	}
}

func TestTracker(t *testing.T) {
	var tr Tracker
	if s := tr.Stats(); s.Cycles != 0 || s.CupsPerHour != 0 {
		t.Errorf("empty stats = %+v", s)
	}

	for _, d := range []time.Duration{20 * time.Second, 40 * time.Second, 30 * time.Second} {
		tr.Add(d)
	}
	s := tr.Stats()
	if s.Cycles != 3 || s.Average != 30*time.Second || s.Min != 20*time.Second || s.Max != 40*time.Second {
		t.Errorf("stats = %+v", s)
	}
	if s.CupsPerHour != 120 {
		t.Errorf("cups/hour = %v, want 120", s.CupsPerHour)
	}
	if got := tr.Remaining(4); got != 2*time.Minute {
		t.Errorf("Remaining(4) = %v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{12500 * time.Millisecond, "12.5s"},
		{200 * time.Second, "3m 20s"},
		{3900 * time.Second, "1h 5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestStation(t *testing.T) {
	s := NewStation(300, -5)
	st := s.Status()
	if st.BrushSpeed != 255 || st.WaterFlow != 0 {
		t.Errorf("clamped speeds = %d, %d", st.BrushSpeed, st.WaterFlow)
	}

	if err := s.Wash(context.Background(), 2*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := s.Rinse(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	st = s.Status()
	if st.CyclesDone != 1 || st.TotalWash != 2*time.Millisecond || st.TotalRinse != time.Millisecond {
		t.Errorf("status = %+v", st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Wash(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled wash = %v", err)
	}
	st = s.Status()
	if st.Washing || st.CyclesDone != 1 || st.TotalWash >= time.Second {
		t.Errorf("after cancel = %+v", st)
	}
}

func TestSensors(t *testing.T) {
	s := NewSensors()
	if !s.CheckAll() {
		t.Error("simulated sensors should all be OK")
	}
	if s.Check(Pump) != SensorOK || s.Check("thermometer") != SensorError {
		t.Error("Check results")
	}
	r := s.Report()
	if !r.AllOK || len(r.Sensors) != 9 || r.LastCheck.IsZero() {
		t.Errorf("report = %+v", r)
	}
	if len(s.Names()) != 9 || s.Names()[0] != BrushMotor {
		t.Errorf("names = %v", s.Names())
	}
}
