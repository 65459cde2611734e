package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationScope names the otelslog logger.
const instrumentationScope = "raycastvehicle"

var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel and Graylog output.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// SetupOption adds an optional sink or decoration to Setup.
type SetupOption func(*setupOptions)

type setupOptions struct {
	graylog  io.Writer
	provider ContextProvider
}

// WithGraylog sends every record as JSON to w, typically a *gelf.Writer.
func WithGraylog(w io.Writer) SetupOption {
	return func(o *setupOptions) { o.graylog = w }
}

// WithContext injects the attributes returned by p into every record.
func WithContext(p ContextProvider) SetupOption {
	return func(o *setupOptions) { o.provider = p }
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system. Records go to file when one is given and to
// stdout otherwise. If provider is nil, OTel logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, opts ...SetupOption) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	if o.graylog != nil {
		handlers = append(handlers, slog.NewJSONHandler(o.graylog, handlerOpts))
	}

	if provider != nil {
		otelHandler := otelslog.NewHandler(instrumentationScope, otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	var handler slog.Handler = newFanout(handlers...)
	if o.provider != nil {
		handler = stamped{Handler: handler, provider: o.provider}
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// WriteLog writes a log entry for a host command, tagging it with the command name.
func (m *SlogManager) WriteLog(command, data, level string) {
	if m.logger == nil {
		return
	}

	switch parseLevel(level) {
	case slog.LevelDebug:
		m.logger.Debug(data, "command", command)
	case slog.LevelWarn:
		m.logger.Warn(data, "command", command)
	case slog.LevelError:
		m.logger.Error(data, "command", command)
	default:
		m.logger.Info(data, "command", command)
	}
}
