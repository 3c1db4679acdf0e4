// Package logging builds the logrus logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// Options configures New
type Options struct {
	Level   string
	Format  string // text or json
	Dir     string // empty logs to stderr only
	Program string
	Output  io.Writer
}

// Logger is a logrus logger owning its log files
type Logger struct {
	*logrus.Logger
	files []*os.File
}

// New creates the logger. With a Dir, every entry is also appended to
// <Dir>/<Program>_info_.log and errors go to a per-run
// <Dir>/<Program>_error_<timestamp>.log.
func New(opts Options) (*Logger, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{Logger: logrus.New()}
	l.SetLevel(level)

	switch opts.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q", opts.Format)
	}

	if opts.Dir == "" {
		l.SetOutput(out)
		return l, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating log dir %s", opts.Dir)
	}

	info, err := os.OpenFile(filepath.Join(opts.Dir, opts.Program+"_info_.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening info log")
	}
	l.files = append(l.files, info)

	name := fmt.Sprintf("%s_error_%s.log", opts.Program, time.Now().Format("20060102_150405"))
	errFile, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		l.Close()
		return nil, errors.Wrap(err, "opening error log")
	}
	l.files = append(l.files, errFile)

	l.SetOutput(io.MultiWriter(out, info))
	l.AddHook(&writer.Hook{
		Writer:    errFile,
		LogLevels: []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
	})

	return l, nil
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
