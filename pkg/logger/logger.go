package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps a level name (case-insensitive) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger wraps a logrus entry so call sites keep the printf-style API.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

var (
	defaultLogger *Logger
	once          sync.Once
)

type Config struct {
	Level      LogLevel
	Prefix     string
	Colorize   bool
	ShowCaller bool
	ShowTime   bool
	TimeFormat string
	Output     io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Prefix:     "",
		Colorize:   isTerminal(os.Stderr),
		ShowCaller: false,
		ShowTime:   true,
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stderr,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "2006-01-02 15:04:05"
	}

	base := logrus.New()
	base.SetOutput(cfg.Output)
	base.SetLevel(cfg.Level.logrus())
	base.SetReportCaller(cfg.ShowCaller)
	base.SetFormatter(&logrus.TextFormatter{
		ForceColors:      cfg.Colorize,
		DisableColors:    !cfg.Colorize,
		FullTimestamp:    true,
		TimestampFormat:  cfg.TimeFormat,
		DisableTimestamp: !cfg.ShowTime,
	})

	entry := logrus.NewEntry(base)
	if cfg.Prefix != "" {
		entry = entry.WithField("component", cfg.Prefix)
	}
	return &Logger{base: base, entry: entry}
}

func GetLogger() *Logger {
	once.Do(func() {
		cfg := DefaultConfig()
		if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
			if lvl, err := ParseLevel(envLevel); err == nil {
				cfg.Level = lvl
			}
		}
		defaultLogger = New(cfg)
	})
	return defaultLogger
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// With returns a child logger that stamps key=value on every line.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithField(key, value)}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

func format(msg string, args []any) string {
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Debug logs a message at DEBUG level
func (l *Logger) Debug(msg string, args ...any) {
	if l.base.IsLevelEnabled(logrus.DebugLevel) {
		l.entry.Debug(format(msg, args))
	}
}

// Info logs a message at INFO level
func (l *Logger) Info(msg string, args ...any) {
	l.entry.Info(format(msg, args))
}

// Warn logs a message at WARN level
func (l *Logger) Warn(msg string, args ...any) {
	l.entry.Warn(format(msg, args))
}

// Error logs a message at ERROR level
func (l *Logger) Error(msg string, args ...any) {
	l.entry.Error(format(msg, args))
}

// Fatal logs a message at FATAL level and exits the program
func (l *Logger) Fatal(msg string, args ...any) {
	l.entry.Fatal(format(msg, args))
}

func (l *Logger) Debugf(format string, args ...any) { l.Debug(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Info(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Warn(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Error(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.Fatal(format, args...) }

// Package-level convenience functions using the default logger

func Debug(msg string, args ...any) { GetLogger().Debug(msg, args...) }
func Info(msg string, args ...any)  { GetLogger().Info(msg, args...) }
func Warn(msg string, args ...any)  { GetLogger().Warn(msg, args...) }
func Error(msg string, args ...any) { GetLogger().Error(msg, args...) }
func Fatal(msg string, args ...any) { GetLogger().Fatal(msg, args...) }

func Debugf(format string, args ...any) { GetLogger().Debugf(format, args...) }
func Infof(format string, args ...any)  { GetLogger().Infof(format, args...) }
func Warnf(format string, args ...any)  { GetLogger().Warnf(format, args...) }
func Errorf(format string, args ...any) { GetLogger().Errorf(format, args...) }
func Fatalf(format string, args ...any) { GetLogger().Fatalf(format, args...) }

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) { GetLogger().SetLevel(level) }

// SetOutput sets the output for the default logger
func SetOutput(w io.Writer) { GetLogger().SetOutput(w) }
