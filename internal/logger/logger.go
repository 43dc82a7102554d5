package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	*zerolog.Logger
	component string
}

var (
	// Default log levels per environment
	logLevel = map[string]zerolog.Level{
		"development": zerolog.DebugLevel,
		"staging":     zerolog.InfoLevel,
		"production":  zerolog.InfoLevel,
	}
)

// Config represents logger configuration
type Config struct {
	IsProduction bool
	AppEnv       string
	// Level overrides the environment default when set (debug, info, warn, error).
	Level string
	// Out defaults to stdout.
	Out io.Writer
}

// New creates a logger for a component using APP_ENV and LOG_LEVEL from the environment.
func New(component string) *Logger {
	return NewWithConfig(component, Config{
		IsProduction: os.Getenv("APP_ENV") == "production",
		AppEnv:       os.Getenv("APP_ENV"),
		Level:        os.Getenv("LOG_LEVEL"),
	})
}

// NewWithConfig creates a logger with explicit configuration.
// Production output is JSON lines; everything else goes through the console writer.
func NewWithConfig(component string, config Config) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	level := getLogLevel(config.AppEnv, config.Level)

	var logger zerolog.Logger
	if config.IsProduction {
		logger = zerolog.New(out).
			Level(level).
			With().
			Timestamp().
			Str("component", component).
			Logger()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
			FormatMessage: func(i interface{}) string {
				return fmt.Sprintf("[%s] %s", component, i)
			},
			FormatLevel: formatLevel,
		}
		logger = zerolog.New(output).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	return &Logger{
		Logger:    &logger,
		component: component,
	}
}

func formatLevel(i interface{}) string {
	level, ok := i.(string)
	if !ok {
		return "???"
	}
	switch level {
	case "debug":
		return "\033[36m[DEBUG]\033[0m"
	case "info":
		return "\033[34m[INFO]\033[0m"
	case "success":
		return "\033[32m[SUCCESS]\033[0m"
	case "warn":
		return "\033[33m[WARN]\033[0m"
	case "error":
		return "\033[31m[ERROR]\033[0m"
	case "fatal":
		return "\033[35m[FATAL]\033[0m"
	default:
		return fmt.Sprintf("[%s]", level)
	}
}

func getLogLevel(env, override string) zerolog.Level {
	if override != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(override)); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if level, exists := logLevel[env]; exists {
		return level
	}
	return zerolog.DebugLevel
}

// Component returns the name the logger was created with.
func (l *Logger) Component() string { return l.component }

// With returns a child logger carrying the given fields on every line.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	child := l.Logger.With().Fields(fields).Logger()
	return &Logger{Logger: &child, component: l.component}
}

func (l *Logger) Debug() *zerolog.Event   { return l.Logger.Debug() }
func (l *Logger) Info() *zerolog.Event    { return l.Logger.Info() }
func (l *Logger) Success() *zerolog.Event { return l.Logger.Info().Str("level", "success") }
func (l *Logger) Warn() *zerolog.Event    { return l.Logger.Warn() }
func (l *Logger) Error() *zerolog.Event   { return l.Logger.Error() }

func (l *Logger) LogDebug(msg string) {
	l.Debug().Msg(msg)
}

func (l *Logger) LogInfo(msg string) {
	l.Info().Msg(msg)
}

func (l *Logger) LogSuccess(msg string) {
	l.Success().Msg(msg)
}

func (l *Logger) LogWarn(msg string) {
	l.Warn().Msg(msg)
}

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

func (l *Logger) LogFatal(msg string, err error) {
	if err != nil {
		l.Fatal().Err(err).Msg(msg)
		return
	}
	l.Fatal().Msg(msg)
}

func (l *Logger) LogDebugf(format string, v ...interface{}) {
	l.Debug().Msgf(format, v...)
}

func (l *Logger) LogInfof(format string, v ...interface{}) {
	l.Info().Msgf(format, v...)
}

func (l *Logger) LogSuccessf(format string, v ...interface{}) {
	l.Success().Msgf(format, v...)
}

func (l *Logger) LogWarnf(format string, v ...interface{}) {
	l.Warn().Msgf(format, v...)
}

func (l *Logger) LogErrorf(format string, v ...interface{}) {
	l.Error().Msgf(format, v...)
}

func (l *Logger) LogFatalf(format string, v ...interface{}) {
	l.Fatal().Msgf(format, v...)
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{Logger: &l, component: "nop"}
}
