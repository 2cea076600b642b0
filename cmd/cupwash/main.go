package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/zkbot/cupwash/pkg/robot"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"Configuration file (default cupwash.json)"`
	Verbose bool   `short:"v" long:"verbose" description:"Debug logging"`

	Setup   SetupCommand   `command:"setup" description:"Pick the serial port and camera and write the configuration"`
	Ports   PortsCommand   `command:"ports" description:"List serial ports"`
	ROI     ROICommand     `command:"roi" description:"Select the detection region by mouse drag or numbers"`
	Gate    GateCommand    `command:"gate" description:"Watch the ROI and move the arm when a cup is seen"`
	Wash    WashCommand    `command:"wash" description:"Run full wash cycles"`
	Teach   TeachCommand   `command:"teach" description:"Teach and list station positions"`
	Program ProgramCommand `command:"program" alias:"prog" description:"List, show and delete saved programs"`
	Probe   ProbeCommand   `command:"probe" description:"Try G-code spellings and framings against the controller"`
	History HistoryCommand `command:"history" description:"Show the wash and error logs"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "cupwash - vision-gated cup washing station for the ZKBot arm"

	// .env is optional
	_ = godotenv.Load()
	opts.Config = robot.DefaultConfigFile

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
