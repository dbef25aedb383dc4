package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with Homestead-specific field helpers. The
// embedded logger is used directly for structured events.
type Logger struct {
	zerolog.Logger
	config LoggingConfig
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		// Anything else is a file path.
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger()
	zlog = zlog.Level(parseLogLevel(cfg.Level))

	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{
		Logger: zlog,
		config: cfg,
	}, nil
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Component creates a child logger for a specific component.
func (l *Logger) Component(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// WithJob returns a logger with a job_id field.
func (l *Logger) WithJob(jobID string) *Logger {
	return &Logger{
		Logger: l.With().Str("job_id", jobID).Logger(),
		config: l.config,
	}
}

// WithServer returns a logger with a server field.
func (l *Logger) WithServer(name string) *Logger {
	return &Logger{
		Logger: l.With().Str("server", name).Logger(),
		config: l.config,
	}
}

// WithApp returns a logger with an app_id field.
func (l *Logger) WithApp(appID string) *Logger {
	return &Logger{
		Logger: l.With().Str("app_id", appID).Logger(),
		config: l.config,
	}
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
