// Package dispatcher routes host and in-process commands to their handlers,
// optionally through a per-command buffer drained by its own goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/nowa-engine/raycastvehicle/internal/dispatcher"

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQueueFull      = errors.New("queue full")
)

// ResultQueued is what a buffered command returns once its event is accepted.
const ResultQueued = "queued"

// Event is a command from the host engine or from the simulation itself.
// Host commands carry string Args; in-process producers attach a typed Payload.
type Event struct {
	Command   string
	Args      []string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler wait for room instead of dropping the event.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

// Dispatcher routes events to registered handlers. Register and Dispatch may be
// called from any goroutine.
type Dispatcher struct {
	logger Logger
	ins    instruments

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	buffers  map[string]chan Event

	// pending counts events accepted by a buffer and not yet handled;
	// idle is closed and replaced whenever it drops to zero.
	pendingMu sync.Mutex
	pending   int64
	idle      chan struct{}
}

// New creates a new Dispatcher with the given logger.
// Metrics go to the global OTel meter provider, a no-op unless one is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Event),
		logger:   logger,
		idle:     make(chan struct{}),
	}
	close(d.idle)

	if err := d.instrument(otel.Meter(instrumentationName)); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) instrument(m metric.Meter) error {
	var err error

	d.ins.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Events waiting in each command buffer"),
	)
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for cmd, buf := range d.buffers {
			o.ObserveInt64(d.ins.queueSize, int64(len(buf)),
				metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, d.ins.queueSize)
	if err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	d.ins.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Buffered events handled"),
	)
	if err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}

	d.ins.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Events dropped because their buffer was full"),
	)
	if err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	return nil
}

// Register adds a handler for the given command, replacing any earlier one.
// A replaced buffered handler keeps draining what it already accepted.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.bufferSize > 0 {
		handler = d.withBuffer(command, cfg.bufferSize, cfg.blocking, handler)
	}
	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	d.mu.Lock()
	d.handlers[command] = handler
	d.mu.Unlock()
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

func (d *Dispatcher) addPending(n int64) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	before := d.pending
	d.pending += n
	switch {
	case before == 0 && d.pending > 0:
		d.idle = make(chan struct{})
	case before > 0 && d.pending == 0:
		close(d.idle)
	}
}

func (d *Dispatcher) withBuffer(command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[command] = buffer
	d.mu.Unlock()

	cmdAttr := metric.WithAttributes(attribute.String("command", command))

	go func() {
		for e := range buffer {
			if _, err := h(e); err != nil {
				d.logger.Error("buffered event failed", "command", command, "error", err)
			}
			d.ins.processed.Add(context.Background(), 1, cmdAttr)
			d.addPending(-1)
		}
	}()

	if blocking {
		return func(e Event) (any, error) {
			d.addPending(1)
			buffer <- e
			return ResultQueued, nil
		}
	}

	return func(e Event) (any, error) {
		d.addPending(1)
		select {
		case buffer <- e:
			return ResultQueued, nil
		default:
			d.addPending(-1)
			d.ins.dropped.Add(context.Background(), 1, cmdAttr)
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
		}
	}
}

// BufferLen returns how many events wait in the buffer of a buffered command.
func (d *Dispatcher) BufferLen(command string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.buffers[command])
}

// Pending returns the number of buffered events not yet handled.
func (d *Dispatcher) Pending() int64 {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return d.pending
}

// Drain waits until every buffered event has been handled or ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		d.pendingMu.Lock()
		idle, n := d.idle, d.pending
		d.pendingMu.Unlock()
		if n == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("draining dispatcher with %d pending: %w", d.Pending(), ctx.Err())
		case <-idle:
		}
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", len(e.Args))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
