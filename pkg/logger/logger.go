package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Logger is the logging contract used across the client.
// Args are alternating key/value pairs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

// LogData is a zerolog-backed Logger.
type LogData struct {
	writer  io.Writer
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// WithLevel sets the minimum level by name ("debug", "info", ...).
// Unknown names leave the current level untouched.
func (build *LogBuild) WithLevel(level string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		build.level = lvl
	}
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	logData.writer = os.Stdout
	if build.writer != nil {
		logData.writer = build.writer
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		logData.writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(logData.writer).Level(build.level).With().Timestamp().Logger()
	return
}

func (l *LogData) Error(msg string, args ...any) {
	withFields(l.Logger.Error(), args).Msg(msg)
}

func (l *LogData) Warn(msg string, args ...any) {
	withFields(l.Logger.Warn(), args).Msg(msg)
}

func (l *LogData) Info(msg string, args ...any) {
	withFields(l.Logger.Info(), args).Msg(msg)
}

func (l *LogData) Debug(msg string, args ...any) {
	withFields(l.Logger.Debug(), args).Msg(msg)
}

// Close releases the log file, if one was opened.
func (l *LogData) Close() error {
	if l.LogFile == nil {
		return nil
	}
	return l.LogFile.Close()
}

func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		e = e.Interface(fmt.Sprint(args[i]), args[i+1])
	}
	if len(args)%2 == 1 {
		e = e.Interface("!BADKEY", args[len(args)-1])
	}
	return e
}

type nop struct{}

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}
