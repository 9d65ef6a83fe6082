package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger is the logging surface handed to every component.
type Logger interface {
	Info(a ...any)
	Infof(format string, v ...interface{})
	Warn(a ...any)
	Warnf(format string, v ...interface{})
	Error(a ...any)
	Errorf(format string, v ...interface{})
	Debug(a ...any)
	Debugf(format string, v ...interface{})
}

var (
	programLevel = new(slog.LevelVar) // Info by default

	std = &logger{l: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))}
)

type logger struct {
	l *slog.Logger
}

// NewDefaultLogger returns a logger writing to stderr at the program level.
func NewDefaultLogger() Logger {
	return std
}

// NewLogger returns a logger writing to w with its own fixed level.
func NewLogger(w io.Writer, level slog.Level) Logger {
	return &logger{l: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return NewLogger(io.Discard, slog.LevelError+1)
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func (l *logger) Info(a ...any) { l.l.Info(fmt.Sprint(a...)) }

func (l *logger) Infof(format string, v ...interface{}) { l.l.Info(fmt.Sprintf(format, v...)) }

func (l *logger) Warn(a ...any) { l.l.Warn(fmt.Sprint(a...)) }

func (l *logger) Warnf(format string, v ...interface{}) { l.l.Warn(fmt.Sprintf(format, v...)) }

func (l *logger) Error(a ...any) { l.l.Error(fmt.Sprint(a...)) }

func (l *logger) Errorf(format string, v ...interface{}) { l.l.Error(fmt.Sprintf(format, v...)) }

func (l *logger) Debug(a ...any) { l.l.Debug(fmt.Sprint(a...)) }

func (l *logger) Debugf(format string, v ...interface{}) { l.l.Debug(fmt.Sprintf(format, v...)) }

func Info(a ...any) {
	std.Info(a...)
}

func Infof(format string, v ...interface{}) {
	std.Infof(format, v...)
}

func Warn(a ...any) {
	std.Warn(a...)
}

func Warnf(format string, v ...interface{}) {
	std.Warnf(format, v...)
}

func Error(a ...any) {
	std.Error(a...)
}

func Errorf(format string, v ...interface{}) {
	std.Errorf(format, v...)
}

func Debug(a ...any) {
	std.Debug(a...)
}

func Debugf(format string, v ...interface{}) {
	std.Debugf(format, v...)
}
