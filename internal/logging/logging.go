// Package logging configures the run logger: text output to the console
// and, optionally, a log file receiving every level.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat/go-file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Options configures New.
type Options struct {
	Level string
	// File receives every entry when set.
	File string
	// MaxAgeDays rotates File daily and keeps this many days of logs.
	// Zero appends to File forever.
	MaxAgeDays int
}

// New returns a logger writing to out.
func New(out io.Writer, o Options) (*log.Logger, error) {
	lvl, err := log.ParseLevel(o.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	})

	if o.File == "" {
		return logger, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.File), 0755); err != nil {
		return nil, errors.Wrapf(err, "create log directory for %s", o.File)
	}
	formatter := &log.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	}

	if o.MaxAgeDays <= 0 {
		paths := lfshook.PathMap{}
		for _, l := range log.AllLevels {
			paths[l] = o.File
		}
		logger.AddHook(lfshook.NewHook(paths, formatter))
		return logger, nil
	}

	w, err := rotatelogs.New(
		o.File+".%Y%m%d",
		rotatelogs.WithLinkName(o.File),
		rotatelogs.WithMaxAge(time.Duration(o.MaxAgeDays)*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rotating log file")
	}
	writers := lfshook.WriterMap{}
	for _, l := range log.AllLevels {
		writers[l] = w
	}
	logger.AddHook(lfshook.NewHook(writers, formatter))
	return logger, nil
}

// Discard returns a logger that drops everything, for tests and library
// callers that do not configure one.
func Discard() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Component tags entries with the emitting part of the program.
func Component(l log.FieldLogger, name string) *log.Entry {
	return l.WithField("component", name)
}
