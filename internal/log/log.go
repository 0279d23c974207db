// Package log is the process-wide logrus logger with optional file rotation.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type runIDKey struct{}

// RunIDKey is the field that ties log lines to one stream run.
const RunIDKey = "run_id"

// Fields is an alias so callers need not import logrus.
type Fields = logrus.Fields

// Config controls the level and the optional rotating log file.
type Config struct {
	Level string
	File  string
}

func newFormatter() logrus.Formatter {
	return &formatter.Formatter{
		TimestampFormat: "02 Jan 06 - 15:04:05",
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
		},
	}
}

// NewLogger returns the process logger, creating it with warn level on
// stderr the first time.
func NewLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		logger.SetFormatter(newFormatter())
		logger.SetOutput(os.Stderr)
		logger.SetReportCaller(true)
	})
	return logger
}

// Setup applies cfg to the process logger.
func Setup(cfg Config) error {
	l := NewLogger()

	level := logrus.WarnLevel
	if cfg.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(cfg.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	l.SetLevel(level)

	writers := []io.Writer{os.Stderr}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

func Debug(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	NewLogger().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	NewLogger().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	NewLogger().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	NewLogger().WithFields(fields).Error(msg)
}

// WithNewRunID tags ctx with a fresh run id.
func WithNewRunID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, runIDKey{}, id), id
}

// WithRunID returns an entry carrying the run id stored in ctx.
func WithRunID(ctx context.Context) *logrus.Entry {
	runID := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
			runID = id
		}
	}
	return NewLogger().WithField(RunIDKey, runID)
}
