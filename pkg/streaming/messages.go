// Package streaming defines the wire envelope used by the websocket storage backend.
package streaming

import (
	"encoding/json"

	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartRun      = "start_run"
	TypeEndRun        = "end_run"
	TypeAddVehicle    = "add_vehicle"
	TypeVehicleSample = "vehicle_sample"
	TypeRecoveryEvent = "recovery_event"

	// TypeAck is the only message the viewer sends back.
	TypeAck = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // TypeAck
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload carries the run header.
type StartRunPayload struct {
	Run              *core.Run `json:"run"`
	SimulatorVersion string    `json:"simulatorVersion"`
}
