// Package logging builds the logrus logger shared by the cupwash commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much is logged.
type Options struct {
	File    string // rotated log file, empty disables
	Level   string // logrus level name, default "info"
	Console bool   // also write to stderr
	Caller  bool   // report file:line of the call site
}

// New returns a logger writing to the configured outputs. With neither a
// file nor the console it discards everything.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	logger.SetLevel(level)

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    20,
			MaxAge:     14,
			MaxBackups: 5,
		})
	}

	logger.SetFormatter(&formatter.Formatter{
		NoColors:        !opts.Console || opts.File != "",
		TimestampFormat: "02 Jan 06 15:04:05",
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	})

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
	logger.SetReportCaller(opts.Caller)
	return logger, nil
}
