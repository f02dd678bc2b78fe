// Package logger sets up the process-wide structured logger: a text
// handler writing to stdout and, optionally, a reconnecting log-sink UNIX
// socket. Records are slog key=value lines with an RFC-3339-like timestamp
// and an uppercase level; the component is a component=name attribute, not
// a bracketed prefix.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var Log *slog.Logger

// Init initialises the global logger. sinkPath, if non-empty, adds a
// SinkWriter to the multi-writer alongside stdout and logFile.
func Init(level string, logFile string, sinkPath string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	if sinkPath != "" {
		writers = append(writers, NewSinkWriter(sinkPath))
	}

	multiWriter := io.MultiWriter(writers...)

	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				return slog.String("time", a.Value.Time().Format("2006-01-02T15:04:05.000Z07:00"))
			case slog.LevelKey:
				return slog.String("level", a.Value.String())
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// Component returns a logger that adds a component=name attribute to every
// record; no bracketed "[name]" tag is written.
func Component(name string) *slog.Logger {
	return Log.With("component", name)
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
