package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHandler struct {
	slog.Handler
	err error
}

func (h failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h failingHandler) Handle(context.Context, slog.Record) error { return h.err }

func textSink(buf *bytes.Buffer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})
}

func TestFanout_SendsToEverySink(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(newFanout(textSink(&a, slog.LevelInfo), nil, textSink(&b, slog.LevelInfo)))

	logger.Info("rescue started", "vehicle", 7)

	assert.Contains(t, a.String(), "vehicle=7")
	assert.Contains(t, b.String(), "vehicle=7")
}

func TestFanout_DropsNilSinks(t *testing.T) {
	assert.Len(t, newFanout(nil, textSink(&bytes.Buffer{}, slog.LevelInfo), nil), 1)
	assert.False(t, newFanout().Enabled(context.Background(), slog.LevelError))
}

func TestFanout_EnabledIfAnySinkIs(t *testing.T) {
	var info, debug bytes.Buffer
	f := newFanout(textSink(&info, slog.LevelInfo), textSink(&debug, slog.LevelDebug))
	assert.True(t, f.Enabled(context.Background(), slog.LevelDebug))

	slog.New(f).Debug("contact lost")
	assert.Empty(t, info.String(), "sinks still filter by their own level")
	assert.Contains(t, debug.String(), "contact lost")
}

func TestFanout_JoinsErrorsAndKeepsGoing(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("graylog down")
	f := newFanout(failingHandler{err: boom}, textSink(&buf, slog.LevelInfo))

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still written", 0)
	err := f.Handle(context.Background(), r)

	require.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "still written")
}

func TestFanout_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	f := newFanout(textSink(&buf, slog.LevelInfo))

	slog.New(f.WithAttrs([]slog.Attr{slog.String("component", "sandbox")})).Info("a")
	slog.New(f.WithGroup("wheel")).Info("b", "handle", 2)

	assert.Contains(t, buf.String(), "component=sandbox")
	assert.Contains(t, buf.String(), "wheel.handle=2")
	assert.Equal(t, f, f.WithGroup(""))
}

func TestStamped_KeepsProviderThroughDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	h := stamped{
		Handler:  textSink(&buf, slog.LevelInfo),
		provider: func() []slog.Attr { return []slog.Attr{slog.String("run", "abc")} },
	}

	slog.New(h).With("vehicle", 1).Info("derived")

	assert.Contains(t, buf.String(), "vehicle=1")
	assert.Contains(t, buf.String(), "run=abc")
}
