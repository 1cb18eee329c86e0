// Package sink is the single consumer draining the collector event bus,
// grounded on original_source/fact/src/lib.rs's run_monitors event
// processing loop (client.send(file_event) when a sensor RPC client was
// configured at process start, println! otherwise; a summary log line for
// package updates).
package sink

import (
	"context"

	"github.com/kylape/fact/pkg/fact/eventbus"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/rpcclient"
	"github.com/kylape/fact/pkg/fact/telemetry"
)

// Sink drains a Bus until its context is cancelled. File activity is
// forwarded to the sensor over rpcClient when one was configured at process
// start (spec.md §2(10)/§4.2); otherwise it's logged at debug level,
// matching the original agent's println! fallback.
type Sink struct {
	bus       eventbus.Bus
	rpcClient *rpcclient.Client
}

// New builds a Sink draining bus. rpcClient may be nil, in which case file
// activity is only logged rather than forwarded.
func New(bus eventbus.Bus, rpcClient *rpcclient.Client) *Sink {
	return &Sink{bus: bus, rpcClient: rpcClient}
}

// Run drains events until ctx is cancelled or the bus is closed.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.bus:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Sink) handle(ctx context.Context, ev eventbus.Event) {
	switch {
	case ev.File != nil:
		telemetry.SinkEventsConsumed.WithLabelValues("file_activity").Inc()
		if s.rpcClient == nil {
			log.L().Debugw("file activity", "filename", ev.File.Filename, "host_path", ev.File.HostPath,
				"pid", ev.File.PID, "uid", ev.File.UID, "comm", ev.File.Comm)
			return
		}
		if err := s.rpcClient.ReportFileEvent(ctx, ev.File.ToWire()); err != nil {
			log.L().Warnw("sink failed to report file event", "error", err)
		}
	case ev.Package != nil:
		telemetry.SinkEventsConsumed.WithLabelValues("package_update").Inc()
		components := 0
		if ev.Package.VM.Scan != nil {
			components = len(ev.Package.VM.Scan.Components)
		}
		log.L().Infow("package update", "vm", ev.Package.VM.ID, "components", components)
	}
}
