package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sirupsen/logrus"

	"github.com/zkbot/cupwash/pkg/gcode"
	"github.com/zkbot/cupwash/pkg/robot"
)

type ProbeCommand struct {
	At     string   `long:"at" default:"0,0,50" description:"Probe target as x,y,z"`
	Feed   int      `long:"feed" default:"100" description:"Feed rate"`
	Styles []string `long:"style" default:"raw" default:"text" choice:"raw" choice:"text" choice:"binary" description:"Frame styles to try"`
}

type probeResult struct {
	style   gcode.Style
	variant gcode.Variant
	reply   string
	err     error
}

func (c *ProbeCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := parsePoint(c.At)
	if err != nil {
		return err
	}
	if err := cfg.Limits.Check(target); err != nil {
		return err
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Probing " + cfg.Robot.Port))
	fmt.Println(dimStyle.Render("Each variant is sent after an M999 reset. The arm may move."))
	fmt.Println()

	var results []probeResult
	for _, s := range c.Styles {
		style, err := gcode.ParseStyle(s)
		if err != nil {
			return err
		}
		res, err := probeStyle(cfg, style, target, c.Feed, logger)
		if err != nil {
			return err
		}
		results = append(results, res...)
	}

	printProbe(results)
	return nil
}

// probeStyle opens the port with one framing and sends every variant.
// Simulation and fallback are disabled.
func probeStyle(cfg *robot.Config, style gcode.Style, target robot.Point, feed int, logger logrus.FieldLogger) ([]probeResult, error) {
	armOpts, err := cfg.ArmOptions()
	if err != nil {
		return nil, err
	}
	armOpts.Style = style
	armOpts.Simulate = false
	armOpts.Fallback = false
	armOpts.Logger = logger.WithField("style", style)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	arm := robot.NewArm(armOpts)
	if err := arm.Connect(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", armOpts.Port, err)
	}
	defer arm.Close()

	fmt.Printf("%s framing:\n", subHeaderStyle.Render(string(style)))
	var results []probeResult
	for _, v := range gcode.ProbeVariants(target.X, target.Y, target.Z, feed) {
		if _, err := arm.ResetErrors(ctx); err != nil {
			logger.WithError(err).Debug("reset before probe")
		}
		reply, err := arm.Send(ctx, v.Line, true)
		mark := successStyle.Render("ok ")
		if err != nil {
			mark = errorStyle.Render("err")
		}
		fmt.Printf("  %s %-10s %s\n", mark, v.Name, dimStyle.Render(v.Line))
		results = append(results, probeResult{style: style, variant: v, reply: reply, err: err})
	}
	fmt.Println()
	return results, nil
}

func printProbe(results []probeResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := r.reply
		if r.err != nil {
			outcome = r.err.Error()
		}
		rows = append(rows, []string{string(r.style), r.variant.Name, r.variant.Line, outcome})
	}

	okStyle := successStyle.Padding(0, 1)
	failStyle := errorStyle.Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Style", "Variant", "Line", "Reply").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 3 && row >= 0 && row < len(results) {
				if results[row].err != nil {
					return failStyle
				}
				return okStyle
			}
			return cellStyle
		})
	fmt.Println(t.Render())
}
