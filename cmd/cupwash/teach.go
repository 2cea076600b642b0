package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zkbot/cupwash/pkg/robot"
	"github.com/zkbot/cupwash/pkg/storage"
)

const otherPosition = "other"

type TeachCommand struct {
	List     bool   `short:"l" long:"list" description:"List taught positions"`
	Name     string `long:"name" description:"Position name (prompted when empty)"`
	At       string `long:"at" description:"Coordinates as x,y,z"`
	FromArm  bool   `long:"from-arm" description:"Use the arm's current position (P01 query)"`
	Delete   string `long:"delete" description:"Forget a taught position"`
	Simulate bool   `long:"simulate" description:"Do not open the serial port"`
}

func (c *TeachCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := storage.New(cfg.DataDir)
	calib, err := store.LoadCalibration()
	if err != nil {
		return err
	}

	if c.List {
		printPositions(calib)
		return nil
	}

	if c.Delete != "" {
		if !calib.Positions.Has(c.Delete) {
			return fmt.Errorf("%w: %q", robot.ErrPositionNotTaught, c.Delete)
		}
		delete(calib.Positions, c.Delete)
		if err := store.SaveCalibration(calib); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("Forgot %s", c.Delete)))
		return nil
	}

	name := c.Name
	if name == "" {
		if name, err = promptPositionName(); err != nil {
			return err
		}
	}

	var p robot.Point
	switch {
	case c.At != "":
		if p, err = parsePoint(c.At); err != nil {
			return err
		}
	case c.FromArm:
		if p, err = readArmPosition(cfg, c.Simulate); err != nil {
			return err
		}
	default:
		if p, err = promptPoint(name, calib.Positions[name], cfg.Limits); err != nil {
			return err
		}
	}

	if err := cfg.Limits.Check(p); err != nil {
		return err
	}
	calib.Positions[name] = p
	if err := store.SaveCalibration(calib); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Saved %s = %s", name, p)))

	if missing := calib.Positions.Missing(robot.CyclePositions()...); len(missing) > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("Still needed for a full cycle: %v", missing)))
	}
	return nil
}

func promptPositionName() (string, error) {
	options := []huh.Option[string]{}
	for _, n := range append(robot.CyclePositions(), robot.PosPickupLower, robot.PosSafe) {
		options = append(options, huh.NewOption(n, n))
	}
	options = append(options, huh.NewOption("Other...", otherPosition))

	var name, custom string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which position?").
				Options(options...).
				Value(&name),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Position name").
				Value(&custom).
				Validate(huh.ValidateNotEmpty()),
		).WithHideFunc(func() bool { return name != otherPosition }),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if name == otherPosition {
		return custom, nil
	}
	return name, nil
}

func promptPoint(name string, current robot.Point, limits robot.Limits) (robot.Point, error) {
	value := fmt.Sprintf("%g,%g,%g", current.X, current.Y, current.Z)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Coordinates for %s (x,y,z mm)", name)).
				Value(&value).
				Validate(func(s string) error {
					p, err := parsePoint(s)
					if err != nil {
						return err
					}
					return limits.Check(p)
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return parsePoint(value)
}

func readArmPosition(cfg *robot.Config, simulate bool) (robot.Point, error) {
	logger, err := newLogger(cfg, false)
	if err != nil {
		return robot.Point{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	arm, err := connectArm(ctx, cfg, simulate, logger)
	if err != nil {
		return robot.Point{}, err
	}
	defer arm.Close()
	return arm.Position(ctx), nil
}

func printPositions(calib *storage.Calibration) {
	names := calib.Positions.Names()
	if len(names) == 0 {
		fmt.Println("No positions taught yet. Use 'cupwash teach'.")
		return
	}

	required := map[string]bool{}
	for _, n := range robot.CyclePositions() {
		required[n] = true
	}

	rows := make([][]string, 0, len(names))
	for _, n := range names {
		p := calib.Positions[n]
		rows = append(rows, []string{
			n,
			fmt.Sprintf("%.1f", p.X),
			fmt.Sprintf("%.1f", p.Y),
			fmt.Sprintf("%.1f", p.Z),
		})
	}

	nameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Position", "X", "Y", "Z").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 0 && row >= 0 && row < len(names) && required[names[row]] {
				return nameStyle.Bold(true)
			}
			if col == 0 {
				return nameStyle
			}
			return cellStyle
		})
	fmt.Println(t.Render())

	if calib.CalibrationDate != nil {
		fmt.Println(dimStyle.Render("Calibrated " + calib.CalibrationDate.Format("2006-01-02 15:04")))
	}
	if missing := calib.Positions.Missing(robot.CyclePositions()...); len(missing) > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Missing for a full cycle: %v", missing)))
	}
}
