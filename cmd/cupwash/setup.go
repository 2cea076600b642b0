package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/zkbot/cupwash/pkg/gcode"
	"github.com/zkbot/cupwash/pkg/robot"
)

const simulatePort = "simulate"

type SetupCommand struct {
	Test bool `long:"test" description:"Connect and home the arm after saving"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("cupwash Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	cfg := robot.DefaultConfig()
	if existing, err := robot.LoadConfigFrom(opts.Config); err == nil {
		cfg = existing
		fmt.Printf("Editing %s\n\n", opts.Config)
	}

	ports, err := listPorts()
	if err != nil {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Could not list serial ports: %v", err)))
	}

	portOptions := []huh.Option[string]{}
	for _, p := range ports {
		portOptions = append(portOptions, huh.NewOption(p, p))
	}
	portOptions = append(portOptions, huh.NewOption("No arm (simulation mode)", simulatePort))

	port := cfg.Robot.Port
	if cfg.Robot.Simulate {
		port = simulatePort
	}
	baud := strconv.Itoa(cfg.Robot.Baud)
	style := cfg.Robot.FrameStyle
	camera := strconv.Itoa(cfg.Vision.Camera)
	target := fmt.Sprintf("%g,%g,%g", cfg.Target.X, cfg.Target.Y, cfg.Target.Z)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Serial port").
				Description("The port the ZKBot controller is on").
				Options(portOptions...).
				Value(&port),
			huh.NewSelect[string]().
				Title("Baud rate").
				Options(huh.NewOptions("9600", "19200", "38400", "57600", "115200", "250000")...).
				Value(&baud),
			huh.NewSelect[string]().
				Title("Frame style").
				Description("How G-code lines are wrapped on the wire").
				Options(
					huh.NewOption("text  (0x550xAA <gcode> 0xAA0x55)", string(gcode.StyleText)),
					huh.NewOption("binary (bytes 55 AA ... AA 55)", string(gcode.StyleBinary)),
					huh.NewOption("raw   (<gcode>\\n)", string(gcode.StyleRaw)),
				).
				Value(&style),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Camera index").
				Value(&camera).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 0 {
						return errors.New("enter a camera index, 0 or more")
					}
					return nil
				}),
			huh.NewInput().
				Title("Target position (x,y,z mm)").
				Description("Where the arm goes when a cup is detected").
				Value(&target).
				Validate(func(s string) error {
					p, err := parsePoint(s)
					if err != nil {
						return err
					}
					return cfg.Limits.Check(p)
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	if port == simulatePort {
		cfg.Robot.Simulate = true
	} else {
		cfg.Robot.Port = port
		cfg.Robot.Simulate = false
	}
	cfg.Robot.Baud, _ = strconv.Atoi(baud)
	cfg.Robot.FrameStyle = style
	cfg.Vision.Camera, _ = strconv.Atoi(camera)
	cfg.Target, _ = parsePoint(target)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)

	if c.Test {
		if err := testArm(cfg); err != nil {
			fmt.Println(errorStyle.Render(fmt.Sprintf("Arm test failed: %v", err)))
		}
	}

	fmt.Println()
	fmt.Println("Select the detection region with: " + headerStyle.Render("cupwash roi"))
	fmt.Println("Then start the gate with:         " + headerStyle.Render("cupwash gate"))
	return nil
}

func testArm(cfg *robot.Config) error {
	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	arm, err := connectArm(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer arm.Close()

	if err := arm.Prepare(ctx); err != nil {
		return err
	}
	p := arm.Position(ctx)
	mode := "hardware"
	if arm.Simulated() {
		mode = "simulation"
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Arm homed (%s), position %s", mode, p)))
	return nil
}

// parsePoint parses "x,y,z".
func parsePoint(s string) (robot.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return robot.Point{}, fmt.Errorf("point %q: want x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return robot.Point{}, fmt.Errorf("point %q: %w", s, err)
		}
		v[i] = f
	}
	return robot.Point{X: v[0], Y: v[1], Z: v[2]}, nil
}

func listPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(details) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	rows := make([][]string, 0, len(details))
	for _, d := range details {
		usb := ""
		if d.IsUSB {
			usb = d.VID + ":" + d.PID
		}
		rows = append(rows, []string{d.Name, usb, d.Product, d.SerialNumber})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "USB ID", "Product", "Serial").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.Render())
	return nil
}
