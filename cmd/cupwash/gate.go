package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/zkbot/cupwash/pkg/gate"
	"github.com/zkbot/cupwash/pkg/vision"
)

type GateCommand struct {
	Frames   string `long:"frames" description:"Replay images from a directory instead of the camera"`
	Loop     bool   `long:"loop" description:"Loop the replayed images"`
	ROI      string `long:"roi" description:"Override the region as x,y,w,h"`
	Hz       int    `long:"hz" description:"Frame rate (default from config)"`
	Simulate bool   `long:"simulate" description:"Do not open the serial port"`
}

const (
	headerHeight = 2 // title + blank line
	statusHeight = 3 // counter, arm and help rows
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

const (
	ratioSeries     = "ratio"
	thresholdSeries = "threshold"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	presentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	coolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	simStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true)
)

type gateModel struct {
	ctrl      *gate.Controller
	chart     *streamlinechart.Model
	threshold float64 // percent
	width     int
	height    int
	logs      []string
	state     gate.State
	quitting  bool
}

func (m *gateModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg gate.State
type logMsg string

func waitForState(ctrl *gate.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *gate.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *gateModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 16
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-statusHeight-footerHeight-borderSize, 8)
	return width, height
}

func newGateModel(ctrl *gate.Controller, minRatio float64) gateModel {
	chart := streamlinechart.New(80, 16,
		streamlinechart.WithYRange(0, 100),
	)
	chart.SetDataSetStyles(ratioSeries, runes.ThinLineStyle,
		lipgloss.NewStyle().Foreground(lipgloss.Color("51")))
	chart.SetDataSetStyles(thresholdSeries, runes.ThinLineStyle,
		lipgloss.NewStyle().Foreground(lipgloss.Color("196")))

	return gateModel{
		ctrl:      ctrl,
		chart:     &chart,
		threshold: minRatio * 100,
		state:     gate.State{Required: ctrl.Required()},
	}
}

func (m gateModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m gateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.ctrl.ResetCounter()
		case "m":
			m.ctrl.ManualTrigger()
		case "c":
			m.ctrl.CaptureBackground()
		}

	case stateMsg:
		state := gate.State(msg)
		m.state = state
		if state.Error == nil && !state.Timestamp.IsZero() {
			m.chart.PushDataSet(ratioSeries, state.Detection.Ratio*100)
			m.chart.PushDataSet(thresholdSeries, m.threshold)
			m.chart.DrawAll()
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m gateModel) View() string {
	if m.quitting {
		return "Gate stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("cupwash gate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.state.Simulated {
		sb.WriteString("  " + simStyle.Render("SIMULATION"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Waiting for frames...")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m gateModel) renderStatus() string {
	s := m.state
	required := max(s.Required, 1)
	filled := min(s.Count, required)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", required-filled)

	presence := statusStyle.Render("no cup")
	if s.Detection.Present {
		presence = presentStyle.Render("cup")
	}

	line1 := fmt.Sprintf("%s %d/%d  %s  %5.1f%% of ROI", bar, s.Count, required, presence, s.Detection.Ratio*100)
	if s.Cooldown > 0 {
		line1 += "  " + coolStyle.Render(fmt.Sprintf("cooldown %.1fs", s.Cooldown.Seconds()))
	}
	if s.Error != nil {
		line1 += "  " + errorStyle.Render(s.Error.Error())
	}

	line2 := statusStyle.Render(fmt.Sprintf("arm %s   moves %d", s.Position, m.ctrl.Moves()))
	line3 := statusStyle.Render("q quit   r reset counter   m manual trigger   c capture background")
	return line1 + "\n" + line2 + "\n" + line3
}

func (c *GateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.ROI != "" {
		if cfg.Vision.ROI, err = vision.ParseROI(c.ROI); err != nil {
			return err
		}
	}
	hz := cfg.Vision.Hz
	if c.Hz > 0 {
		hz = c.Hz
	}

	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	arm, err := connectArm(ctx, cfg, c.Simulate, logger)
	if err != nil {
		return err
	}
	defer arm.Close()

	source, err := openSource(cfg, c.Frames, c.Loop)
	if err != nil {
		return fmt.Errorf("open frames: %w", err)
	}

	ctrl, err := gate.NewController(gate.Config{
		Source:       source,
		ROI:          cfg.Vision.ROI,
		Detector:     newDetector(cfg),
		StableFrames: cfg.Vision.StableFrames,
		Cooldown:     cfg.Vision.Cooldown(),
		Arm:          arm,
		Target:       cfg.Target,
		Feed:         cfg.Robot.Feed,
		Hz:           hz,
		Logger:       logger,
	})
	if err != nil {
		source.Close()
		return err
	}
	defer ctrl.Close()

	fmt.Printf("Loaded configuration from %s\n", opts.Config)

	p := tea.NewProgram(newGateModel(ctrl, cfg.Vision.MinAreaRatio), tea.WithAltScreen())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.Quit()
		err := ctrl.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Printf("%d move(s) sent.\n", ctrl.Moves())
	return nil
}
