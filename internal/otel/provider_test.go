package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "raycastvehicle"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:    "raycastvehicle",
		ServiceVersion: "0.1.0",
		InstanceID:     "sim-1",
		BatchTimeout:   time.Second,
		LogWriter:      &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.True(t, p.Enabled())

	var rec log.Record
	rec.SetBody(log.StringValue("vehicle created"))
	p.LoggerProvider().Logger("test").Emit(context.Background(), rec)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "vehicle created")
	assert.Contains(t, buf.String(), "sim-1")
	require.NoError(t, p.Shutdown(context.Background()))
}
