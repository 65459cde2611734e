package worker

import (
	"sync/atomic"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
	"github.com/nowa-engine/raycastvehicle/internal/session"
	"github.com/nowa-engine/raycastvehicle/internal/vehicle"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// Recorder implements vehicle.Recorder by queueing onto the dispatcher's buffered
// recording commands. It never blocks the substep.
type Recorder struct {
	d       *dispatcher.Dispatcher
	session *session.Context
	dropped atomic.Uint64
}

var _ vehicle.Recorder = (*Recorder)(nil)

func (r *Recorder) RecordSample(s core.VehicleSample) {
	if !r.session.Active() {
		return
	}
	r.send(CmdRecordSample, s)
}

func (r *Recorder) RecordRecovery(e core.RecoveryEvent) {
	if !r.session.Active() {
		return
	}
	r.send(CmdRecordRecovery, e)
}

// RegisterVehicle records a vehicle (or its changed wheel set) with the active run.
func (r *Recorder) RegisterVehicle(info core.VehicleInfo) error {
	_, err := r.d.Dispatch(dispatcher.Event{
		Command:   CmdRecordVehicle,
		Payload:   info,
		Timestamp: time.Now(),
	})
	return err
}

// Dropped is how many samples and events were lost to full queues.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) send(cmd string, payload any) {
	if _, err := r.d.Dispatch(dispatcher.Event{Command: cmd, Payload: payload, Timestamp: time.Now()}); err != nil {
		r.dropped.Add(1)
	}
}
