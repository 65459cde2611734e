// Package otel builds the OpenTelemetry log pipeline the simulator's slog output feeds into.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoExporter is returned when OTel is enabled without anywhere to send records.
var ErrNoExporter = errors.New("OTel enabled but no log writer or endpoint configured")

// Config holds OTel configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// InstanceID tells simulator processes apart when several export to one collector.
	InstanceID   string
	BatchTimeout time.Duration
	LogWriter    io.Writer // records are pretty-printed here when set
	Endpoint     string    // OTLP/HTTP collector, host:port
	Insecure     bool
}

// Provider owns the log provider. A disabled Provider is valid and does nothing.
type Provider struct {
	logProvider *sdklog.LoggerProvider
}

// New creates the log pipeline described by cfg.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	batch := []sdklog.BatchProcessorOption{sdklog.WithExportTimeout(cfg.BatchTimeout)}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}

	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batch...)))
	}

	if cfg.Endpoint != "" {
		exp, err := newOTLPExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batch...)))
	}

	if len(opts) == 1 {
		return nil, ErrNoExporter
	}
	return &Provider{logProvider: sdklog.NewLoggerProvider(opts...)}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceID(cfg.InstanceID)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func newOTLPExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	exp, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}
	return exp, nil
}

// LoggerProvider returns the provider for the otelslog bridge, or nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Enabled reports whether records are exported anywhere.
func (p *Provider) Enabled() bool {
	return p.logProvider != nil
}

// Flush pushes out buffered records. The host calls it when a run ends.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops every exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}
