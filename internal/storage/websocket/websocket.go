package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// SimulatorVersion is sent with every start_run message.
var SimulatorVersion = "dev"

// Backend streams run data over WebSocket to a live viewer.
// It implements storage.Backend but not storage.Exporter.
type Backend struct {
	conn    *connection
	cfg     Config
	samples atomic.Uint64
}

// New creates a new WebSocket storage backend. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartRun sends the run header and waits for server ack.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{
		Run:              run,
		SimulatorVersion: SimulatorVersion,
	})
	if err != nil {
		return err
	}

	b.conn.remember(data)
	b.samples.Store(0)

	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends end_run and waits for server ack.
func (b *Backend) EndRun() error {
	data, err := marshalEnvelope(streaming.TypeEndRun, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)
	b.conn.remember(nil)
	return err
}

// AddVehicle streams the vehicle and keeps it for replay after a reconnect.
func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	data, err := marshalEnvelope(streaming.TypeAddVehicle, v)
	if err != nil {
		return err
	}
	b.conn.rememberVehicle(v.ID, data)
	b.conn.send(data)
	return nil
}

func (b *Backend) RecordVehicleSample(s *core.VehicleSample) error {
	b.samples.Add(1)
	return b.sendEnvelope(streaming.TypeVehicleSample, s)
}

func (b *Backend) RecordRecoveryEvent(e *core.RecoveryEvent) error {
	return b.sendEnvelope(streaming.TypeRecoveryEvent, e)
}

// QueueLengths reports the messages waiting for the write loop.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"send":    len(b.conn.sendCh),
		"dropped": int(b.conn.dropped.Load()),
	}
}

// SamplesSent is the number of samples streamed since the run started.
func (b *Backend) SamplesSent() uint64 {
	return b.samples.Load()
}
