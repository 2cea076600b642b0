// Package storage persists station data as indented JSON files under a
// data directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/wash"
)

// Log caps.
const (
	MaxCycles = 1000
	MaxErrors = 500
)

// ErrProgramNotFound is returned when a program file does not exist.
var ErrProgramNotFound = wash.ErrProgramNotFound

// Settings holds station counters and UI preferences.
type Settings struct {
	System SystemSettings `json:"system"`
	UI     UISettings     `json:"ui"`
}

// SystemSettings holds lifetime counters.
type SystemSettings struct {
	FirstRun          bool    `json:"first_run"`
	Calibrated        bool    `json:"calibrated"`
	TotalCupsWashed   int     `json:"total_cups_washed"`
	TotalRuntimeHours float64 `json:"total_runtime_hours"`
	MaintenanceDue    bool    `json:"maintenance_due"`
}

// UISettings remembers the last run choices.
type UISettings struct {
	LastMode       wash.Mode `json:"last_mode"`
	LastTargetCups int       `json:"last_target_cups"`
	LastProgram    string    `json:"last_program,omitempty"`
}

// DefaultSettings returns the first-run settings.
func DefaultSettings() *Settings {
	return &Settings{
		System: SystemSettings{FirstRun: true},
		UI:     UISettings{LastMode: wash.ModeSingle, LastTargetCups: 10},
	}
}

// Calibration holds the taught positions.
type Calibration struct {
	Positions       robot.Positions        `json:"positions"`
	Offsets         map[string]robot.Point `json:"offsets"`
	CalibrationDate *time.Time             `json:"calibration_date"`
	CalibratedBy    string                 `json:"calibrated_by,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
}

// DefaultCalibration returns an empty calibration.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Positions: robot.Positions{},
		Offsets:   map[string]robot.Point{},
		Notes:     "Use 'cupwash teach' to save positions",
	}
}

type washLog struct {
	Cycles []wash.CycleRecord `json:"cycles"`
}

type errorLog struct {
	Errors []wash.ErrorRecord `json:"errors"`
}

// Store reads and writes the data files. Safe for concurrent use.
type Store struct {
	Dir string

	mu  sync.Mutex
	now func() time.Time
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir, now: time.Now}
}

func (s *Store) settingsPath() string    { return filepath.Join(s.Dir, "config", "settings.json") }
func (s *Store) calibrationPath() string { return filepath.Join(s.Dir, "config", "calibration.json") }
func (s *Store) programsDir() string     { return filepath.Join(s.Dir, "programs") }
func (s *Store) washLogPath() string     { return filepath.Join(s.Dir, "logs", "wash_log.json") }
func (s *Store) errorLogPath() string    { return filepath.Join(s.Dir, "logs", "error_log.json") }

func (s *Store) programPath(name string) string {
	return filepath.Join(s.programsDir(), name+".json")
}

// loadJSON decodes path into v. When the file is missing v keeps its
// current value, which is written out if writeDefault is set.
func loadJSON(path string, v any, writeDefault bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if writeDefault {
			return saveJSON(path, v)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadSettings returns the settings, writing the defaults on first use.
func (s *Store) LoadSettings() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := DefaultSettings()
	if err := loadJSON(s.settingsPath(), st, true); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveSettings writes the settings.
func (s *Store) SaveSettings(st *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveJSON(s.settingsPath(), st)
}

// LoadCalibration returns the calibration, writing an empty one on first use.
func (s *Store) LoadCalibration() (*Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := DefaultCalibration()
	if err := loadJSON(s.calibrationPath(), c, true); err != nil {
		return nil, err
	}
	if c.Positions == nil {
		c.Positions = robot.Positions{}
	}
	return c, nil
}

// SaveCalibration stamps the calibration date and writes it.
func (s *Store) SaveCalibration(c *Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c.CalibrationDate = &now
	return saveJSON(s.calibrationPath(), c)
}

// ListPrograms returns the saved program names in order.
func (s *Store) ListPrograms() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.programsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, os.MkdirAll(s.programsDir(), 0755)
	}
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadProgram reads a program. The name inside the file is set from the
// file name when empty.
func (s *Store) LoadProgram(name string) (*wash.Program, error) {
	if err := wash.ValidateProgramName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.programPath(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrProgramNotFound, name)
	}
	p := &wash.Program{}
	if err := loadJSON(path, p, false); err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// SaveProgram validates p, stamps last_modified and writes it under p.Name.
func (s *Store) SaveProgram(p *wash.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p.LastModified = &now
	return saveJSON(s.programPath(p.Name), p)
}

// DeleteProgram removes a program.
func (s *Store) DeleteProgram(name string) error {
	if err := wash.ValidateProgramName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.programPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrProgramNotFound, name)
	}
	return err
}

// LogCycle appends a cycle record, keeping the newest MaxCycles.
func (s *Store) LogCycle(rec wash.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l washLog
	if err := loadJSON(s.washLogPath(), &l, false); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	l.Cycles = append(l.Cycles, rec)
	if n := len(l.Cycles); n > MaxCycles {
		l.Cycles = l.Cycles[n-MaxCycles:]
	}
	return saveJSON(s.washLogPath(), l)
}

// LogError appends an error record, keeping the newest MaxErrors.
func (s *Store) LogError(rec wash.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l errorLog
	if err := loadJSON(s.errorLogPath(), &l, false); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	l.Errors = append(l.Errors, rec)
	if n := len(l.Errors); n > MaxErrors {
		l.Errors = l.Errors[n-MaxErrors:]
	}
	return saveJSON(s.errorLogPath(), l)
}

// Cycles returns the wash log.
func (s *Store) Cycles() ([]wash.CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l washLog
	if err := loadJSON(s.washLogPath(), &l, false); err != nil {
		return nil, err
	}
	return l.Cycles, nil
}

// Errors returns the error log.
func (s *Store) Errors() ([]wash.ErrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var l errorLog
	if err := loadJSON(s.errorLogPath(), &l, false); err != nil {
		return nil, err
	}
	return l.Errors, nil
}

// RecordRun adds a finished run to the lifetime counters.
func (s *Store) RecordRun(washed int, runtime time.Duration) error {
	st, err := s.LoadSettings()
	if err != nil {
		return err
	}
	st.System.FirstRun = false
	st.System.TotalCupsWashed += washed
	st.System.TotalRuntimeHours += runtime.Hours()
	return s.SaveSettings(st)
}
