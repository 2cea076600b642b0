package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/storage"
	"github.com/zkbot/cupwash/pkg/wash"
)

type WashCommand struct {
	Mode     string `short:"m" long:"mode" default:"single" choice:"single" choice:"fixed" choice:"infinite" description:"Washing mode"`
	Count    int    `short:"n" long:"count" default:"10" description:"Cups to wash in fixed mode"`
	Program  string `short:"p" long:"program" description:"Run a saved program instead of the taught-position cycle"`
	Frames   string `long:"frames" description:"Replay images from a directory instead of the camera"`
	Loop     bool   `long:"loop" description:"Loop the replayed images"`
	Simulate bool   `long:"simulate" description:"Do not open the serial port"`
	Stop     bool   `long:"estop" description:"Send an emergency stop (M112) and exit"`
}

func (c *WashCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode, err := wash.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	arm, err := connectArm(ctx, cfg, c.Simulate, logger)
	if err != nil {
		return err
	}
	defer arm.Close()

	store := storage.New(cfg.DataDir)
	if c.Stop {
		if err := sendEstop(context.Background(), arm, store); err != nil {
			return err
		}
		fmt.Println(errorStyle.Render("EMERGENCY STOP sent"))
		return nil
	}

	calib, err := store.LoadCalibration()
	if err != nil {
		return err
	}
	if c.Program == "" {
		if missing := calib.Positions.Missing(robot.CyclePositions()...); len(missing) > 0 {
			return fmt.Errorf("positions not taught: %v (use 'cupwash teach')", missing)
		}
	}

	source, err := openSource(cfg, c.Frames, c.Loop)
	if err != nil {
		return fmt.Errorf("open frames: %w", err)
	}
	defer source.Close()

	ctrl, err := wash.NewController(wash.Config{
		Arm:          arm,
		Station:      wash.NewStation(cfg.Wash.BrushSpeed, cfg.Wash.WaterFlow),
		Source:       source,
		ROI:          cfg.Vision.ROI,
		Detector:     newDetector(cfg),
		StableFrames: cfg.Vision.StableFrames,
		FrameDelay:   time.Second / time.Duration(cfg.Vision.Hz),
		Positions:    calib.Positions,
		Programs:     store,
		Recorder:     store,
		WashTime:     time.Duration(cfg.Wash.WashSeconds) * time.Second,
		RinseTime:    time.Duration(cfg.Wash.RinseSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if err := ctrl.Initialize(ctx); err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Washing started"))
	fmt.Printf("  Mode:   %s\n", mode)
	if mode == wash.ModeFixed {
		fmt.Printf("  Target: %d cups\n", c.Count)
	}
	if c.Program != "" {
		fmt.Printf("  Program: %s\n", c.Program)
	}
	fmt.Println(dimStyle.Render("Press Ctrl+C to stop"))
	fmt.Println()

	runErr := ctrl.Run(ctx, wash.RunOptions{Mode: mode, Target: c.Count, Program: c.Program})
	if errors.Is(runErr, context.Canceled) {
		ctrl.Stop()
		runErr = nil
	}

	st := ctrl.Status()
	printSummary(st)

	settings, err := store.LoadSettings()
	if err == nil {
		settings.UI.LastMode = mode
		settings.UI.LastTargetCups = c.Count
		settings.UI.LastProgram = c.Program
		if err := store.SaveSettings(settings); err != nil {
			logger.WithError(err).Warn("save settings")
		}
	}
	if err := store.RecordRun(st.Washed, st.Elapsed); err != nil {
		logger.WithError(err).Warn("record run")
	}
	return runErr
}

// sendEstop sends M112 and writes the stop to the error log.
func sendEstop(ctx context.Context, arm wash.Arm, rec wash.Recorder) error {
	err := arm.EmergencyStop(ctx)
	msg := "emergency stop activated"
	if err != nil {
		msg = fmt.Sprintf("emergency stop failed: %v", err)
	}
	rerr := rec.LogError(wash.ErrorRecord{
		Message:   msg,
		State:     wash.StateEmergencyStop,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	if rerr != nil {
		return fmt.Errorf("write error log: %w", rerr)
	}
	return nil
}

func printSummary(st wash.Status) {
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Summary ━━━"))
	fmt.Printf("  Washed:  %s\n", successStyle.Render(fmt.Sprint(st.Washed)))
	if st.Failed > 0 {
		fmt.Printf("  Failed:  %s\n", errorStyle.Render(fmt.Sprint(st.Failed)))
	}
	fmt.Printf("  Elapsed: %s\n", wash.FormatDuration(st.Elapsed))
	if st.Stats.Cycles > 0 {
		fmt.Printf("  Cycle:   avg %s, min %s, max %s (%.0f cups/hour)\n",
			wash.FormatDuration(st.Stats.Average),
			wash.FormatDuration(st.Stats.Min),
			wash.FormatDuration(st.Stats.Max),
			st.Stats.CupsPerHour)
	}
	for _, e := range st.RecentErrors {
		fmt.Println("  " + errorStyle.Render(e))
	}
}
