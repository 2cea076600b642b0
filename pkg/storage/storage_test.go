package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/wash"
)

var (
	_ wash.Recorder      = (*Store)(nil)
	_ wash.ProgramLoader = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func TestStore_SettingsDefaultsWritten(t *testing.T) {
	s := newTestStore(t)

	st, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !st.System.FirstRun || st.UI.LastMode != wash.ModeSingle || st.UI.LastTargetCups != 10 {
		t.Errorf("defaults = %+v", st)
	}

	data, err := os.ReadFile(s.settingsPath())
	if err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"system\"") {
		t.Errorf("expected 2-space indented JSON, got:\n%s", data)
	}

	if err := s.RecordRun(3, 30*time.Minute); err != nil {
		t.Fatal(err)
	}
	st, _ = s.LoadSettings()
	if st.System.FirstRun || st.System.TotalCupsWashed != 3 || st.System.TotalRuntimeHours != 0.5 {
		t.Errorf("after RecordRun = %+v", st.System)
	}
}

func TestStore_Calibration(t *testing.T) {
	s := newTestStore(t)

	c, err := s.LoadCalibration()
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Positions) != 0 || c.CalibrationDate != nil {
		t.Errorf("default calibration = %+v", c)
	}

	c.Positions[robot.PosPickup] = robot.Point{X: 150, Y: -20, Z: 30}
	if err := s.SaveCalibration(c); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadCalibration()
	if err != nil {
		t.Fatal(err)
	}
	if got.Positions[robot.PosPickup] != (robot.Point{X: 150, Y: -20, Z: 30}) {
		t.Errorf("positions = %v", got.Positions)
	}
	if got.CalibrationDate == nil || !got.CalibrationDate.Equal(s.now()) {
		t.Errorf("calibration date = %v", got.CalibrationDate)
	}
}

func TestStore_Programs(t *testing.T) {
	s := newTestStore(t)

	names, err := s.ListPrograms()
	if err != nil || len(names) != 0 {
		t.Fatalf("ListPrograms on empty dir = %v, %v", names, err)
	}

	for _, n := range []string{"zeta", "alpha run"} {
		p := &wash.Program{Name: n, Steps: []wash.Step{{Cmd: wash.CmdRapid, X: 10, Feedrate: 200}}}
		if err := s.SaveProgram(p); err != nil {
			t.Fatalf("SaveProgram(%s): %v", n, err)
		}
	}
	os.WriteFile(filepath.Join(s.programsDir(), "README.txt"), []byte("x"), 0644)

	names, err = s.ListPrograms()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"alpha run", "zeta"}) {
		t.Errorf("ListPrograms = %v", names)
	}

	p, err := s.LoadProgram("zeta")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "zeta" || len(p.Steps) != 1 || p.Steps[0].X != 10 || p.LastModified == nil {
		t.Errorf("loaded = %+v", p)
	}

	if err := s.DeleteProgram("zeta"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadProgram("zeta"); !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("load deleted = %v", err)
	}
	if err := s.DeleteProgram("zeta"); !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("delete twice = %v", err)
	}
	if _, err := s.LoadProgram("../etc/passwd"); err == nil {
		t.Error("path-like names must be rejected")
	}
}

func TestStore_SaveProgramValidates(t *testing.T) {
	s := newTestStore(t)
	p := &wash.Program{Name: "p", Steps: []wash.Step{{Cmd: "JUMP"}}}
	if err := s.SaveProgram(p); !errors.Is(err, wash.ErrUnknownCommand) {
		t.Errorf("SaveProgram = %v", err)
	}
}

func TestStore_LogCycleCapped(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= MaxCycles+5; i++ {
		if err := s.LogCycle(wash.CycleRecord{CupNumber: i, Success: true}); err != nil {
			t.Fatal(err)
		}
	}
	cycles, err := s.Cycles()
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != MaxCycles {
		t.Fatalf("len = %d, want %d", len(cycles), MaxCycles)
	}
	if cycles[0].CupNumber != 6 || cycles[len(cycles)-1].CupNumber != MaxCycles+5 {
		t.Errorf("kept %d..%d", cycles[0].CupNumber, cycles[len(cycles)-1].CupNumber)
	}
	if !cycles[0].Timestamp.Equal(s.now()) {
		t.Errorf("timestamp = %v", cycles[0].Timestamp)
	}
}

func TestStore_LogErrorCapped(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < MaxErrors+1; i++ {
		if err := s.LogError(wash.ErrorRecord{Message: "boom", State: wash.StateError}); err != nil {
			t.Fatal(err)
		}
	}
	errs, err := s.Errors()
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != MaxErrors || errs[0].State != wash.StateError {
		t.Errorf("len = %d first = %+v", len(errs), errs[0])
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	os.MkdirAll(filepath.Dir(s.settingsPath()), 0755)
	os.WriteFile(s.settingsPath(), []byte("{not json"), 0644)
	if _, err := s.LoadSettings(); err == nil {
		t.Error("corrupt settings should fail")
	}
}
